package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/projecthorus/horus-utils/internal/packets"
	"github.com/projecthorus/horus-utils/internal/types"
)

//go:embed sql/insert-rx.sql
var insertRxSQL string

//go:embed sql/insert-tx.sql
var insertTxSQL string

//go:embed sql/insert-telemetry.sql
var insertTelemetrySQL string

//go:embed sql/recent-rx.sql
var recentRxSQL string

//go:embed sql/latest-telemetry.sql
var latestTelemetrySQL string

// RxRecord is one logged received frame.
type RxRecord struct {
	ID         int64         `json:"id"`
	ReceivedAt string        `json:"received_at"`
	PacketType *int          `json:"packet_type"`
	PayloadID  *int          `json:"payload_id"`
	Payload    types.Payload `json:"payload"`
	RSSI       int           `json:"rssi"`
	SNR        float64       `json:"snr"`
	FreqError  int           `json:"freq_error"`
	CRCOK      bool          `json:"crc_ok"`
	Summary    string        `json:"summary"`
}

type PacketRepository interface {
	// Record logs RXPKT and TXDONE messages and ignores the rest.
	Record(ctx context.Context, m types.Message) error
	RecentRx(ctx context.Context, limit int) ([]RxRecord, error)
	LatestTelemetry(ctx context.Context, payloadID int, limit int) ([]types.Telemetry, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) PacketRepository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) Record(ctx context.Context, m types.Message) error {
	switch msg := m.(type) {
	case types.RxPacket:
		return r.insertRx(ctx, msg)
	case types.TxDone:
		return r.insertTx(ctx, msg)
	}
	return nil
}

func (r *repositoryImpl) insertRx(ctx context.Context, rx types.RxPacket) error {
	if _, err := r.db.ExecContext(ctx, insertRxSQL,
		rx.Timestamp,
		packetType(rx.Payload),
		payloadID(rx.Payload),
		[]byte(rx.Payload),
		rx.RSSI,
		rx.SNR,
		rx.FreqError,
		rx.PktFlags.CRCOK(),
		packets.Describe(rx.Payload),
	); err != nil {
		return fmt.Errorf("insert rx packet: %w", err)
	}

	receivedAt, err := time.Parse(types.TimestampLayout, rx.Timestamp)
	if err != nil {
		receivedAt = time.Now().UTC()
	}
	tlm, ok := types.TelemetryFromRx(rx, receivedAt)
	if !ok {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, insertTelemetrySQL,
		tlm.PayloadID,
		rx.Timestamp,
		tlm.Counter,
		tlm.Time,
		tlm.Latitude,
		tlm.Longitude,
		tlm.Altitude,
		tlm.Sats,
		tlm.BatteryVoltage,
		tlm.Sentence,
	); err != nil {
		return fmt.Errorf("insert telemetry: %w", err)
	}
	return nil
}

func (r *repositoryImpl) insertTx(ctx context.Context, tx types.TxDone) error {
	if _, err := r.db.ExecContext(ctx, insertTxSQL,
		tx.Timestamp,
		packetType(tx.Payload),
		[]byte(tx.Payload),
		tx.TxQueueSize,
		packets.Describe(tx.Payload),
	); err != nil {
		return fmt.Errorf("insert tx packet: %w", err)
	}
	return nil
}

func (r *repositoryImpl) RecentRx(ctx context.Context, limit int) ([]RxRecord, error) {
	rows, err := r.db.QueryContext(ctx, recentRxSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close rx rows", "error", err)
		}
	}()

	out := []RxRecord{}
	for rows.Next() {
		var (
			rec     RxRecord
			typ, id sql.NullInt64
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &rec.ReceivedAt, &typ, &id, &payload,
			&rec.RSSI, &rec.SNR, &rec.FreqError, &rec.CRCOK, &rec.Summary); err != nil {
			return nil, err
		}
		rec.PacketType = nullInt(typ)
		rec.PayloadID = nullInt(id)
		rec.Payload = payload
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) LatestTelemetry(ctx context.Context, payloadID int, limit int) ([]types.Telemetry, error) {
	rows, err := r.db.QueryContext(ctx, latestTelemetrySQL, payloadID, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close telemetry rows", "error", err)
		}
	}()

	out := []types.Telemetry{}
	for rows.Next() {
		var (
			t  types.Telemetry
			ts string
		)
		if err := rows.Scan(&t.PayloadID, &ts, &t.Counter, &t.Time, &t.Latitude, &t.Longitude,
			&t.Altitude, &t.Sats, &t.BatteryVoltage, &t.Sentence); err != nil {
			return nil, err
		}
		t.ReceivedAt, _ = time.Parse(types.TimestampLayout, ts)
		out = append(out, t)
	}
	return out, rows.Err()
}

func packetType(b []byte) sql.NullInt64 {
	t, err := packets.DecodeType(b)
	if err != nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(t), Valid: true}
}

func payloadID(b []byte) sql.NullInt64 {
	d, err := packets.DecodeDestination(b)
	if err != nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(d.Byte()), Valid: true}
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
