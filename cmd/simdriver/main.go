// Command simdriver drives a fake courier over the gateway websocket: it
// authenticates as a driver and reports positions along a straight line
// towards a destination.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/samirrijal/livetrack/internal/adapters/jwtauth"
	"github.com/samirrijal/livetrack/internal/core/domain"
	"github.com/samirrijal/livetrack/internal/core/protocol"
	"github.com/samirrijal/livetrack/internal/pkg/config"
	"github.com/samirrijal/livetrack/internal/pkg/logging"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "gateway websocket url")
	driverID := flag.String("driver", "", "driver id to report as")
	token := flag.String("token", "", "driver token; minted from auth.jwt_secret when empty")
	fromLat := flag.Float64("from-lat", 43.2630, "start latitude")
	fromLon := flag.Float64("from-lon", -2.9350, "start longitude")
	toLat := flag.Float64("to-lat", 43.2570, "destination latitude")
	toLon := flag.Float64("to-lon", -2.9230, "destination longitude")
	speed := flag.Float64("speed", 8, "meters per second")
	interval := flag.Duration("interval", 2*time.Second, "report interval")
	flag.Parse()

	if *driverID == "" {
		log.Fatal("-driver is required")
	}

	logger := logging.Setup("livetrack-simdriver", "info", "text")

	if *token == "" {
		cfg, err := config.Load("livetrack-simdriver")
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		issuer, err := jwtauth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if err != nil {
			log.Fatalf("auth: %v", err)
		}
		*token, err = issuer.Issue(domain.Identity{ID: *driverID, Role: domain.RoleDriver}, time.Hour)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", *url, err)
	}
	defer conn.Close()
	logger.Info("connected", "url", *url, "driver_id", *driverID)

	if err := send(conn, protocol.Auth{Token: *token}); err != nil {
		log.Fatalf("auth: %v", err)
	}

	go readLoop(logger, conn)

	route := newLeg(
		domain.GeoPoint{Lat: *fromLat, Lon: *fromLon},
		domain.GeoPoint{Lat: *toLat, Lon: *toLon},
		*speed,
	)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			return
		case now := <-ticker.C:
			p, heading, done := route.at(now.Sub(start))
			if err := send(conn, report(*driverID, p, heading, *speed, now)); err != nil {
				logger.Error("report failed", "error", err)
				os.Exit(1)
			}
			logger.Info("reported", "lat", p.Lat, "lon", p.Lon)
			if done {
				logger.Info("destination reached", "elapsed", time.Since(start).Round(time.Second).String())
				return
			}
		}
	}
}

func send(conn *websocket.Conn, m protocol.ClientMessage) error {
	frame, err := protocol.EncodeClient(m)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func report(driverID string, p domain.GeoPoint, heading, speed float64, at time.Time) protocol.ReportPosition {
	at = at.UTC()
	return protocol.ReportPosition{
		DriverID:   driverID,
		Lat:        &p.Lat,
		Lon:        &p.Lon,
		Heading:    &heading,
		Speed:      &speed,
		RecordedAt: &at,
	}
}

func readLoop(logger *slog.Logger, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn("read failed", "error", err)
			}
			return
		}
		msg, err := protocol.DecodeServer(raw)
		if err != nil {
			logger.Warn("undecodable frame", "error", err)
			continue
		}
		switch m := msg.(type) {
		case protocol.Ack:
			logger.Info("ack", "ref", m.Ref, "user_id", m.UserID)
		case protocol.Error:
			logger.Warn("server error", "code", m.Code, "message", m.Message)
		}
	}
}
