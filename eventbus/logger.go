package eventbus

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Stats summarizes a logger's own bookkeeping, returned by Stats().
type Stats struct {
	TotalEvents  int
	OldestEvent  time.Time
	NewestEvent  time.Time
}

// Logger is the connection-event back-end contract, per spec.md §4.8.
// Implementations must be safe for concurrent Log calls.
type Logger interface {
	Log(ctx context.Context, event ConnectionEvent) error
	QueryRecent(ctx context.Context, limit int) ([]ConnectionEvent, error)
	QueryConnection(ctx context.Context, id uuid.UUID) ([]ConnectionEvent, error)
	Flush(ctx context.Context) error
	Cleanup(ctx context.Context) error
	Stats() Stats
	IsNull() bool
}

// NullLogger discards every event. Used when connection logging is
// disabled entirely.
type NullLogger struct{}

func NewNullLogger() *NullLogger { return &NullLogger{} }

func (*NullLogger) Log(context.Context, ConnectionEvent) error                 { return nil }
func (*NullLogger) QueryRecent(context.Context, int) ([]ConnectionEvent, error) { return nil, nil }
func (*NullLogger) QueryConnection(context.Context, uuid.UUID) ([]ConnectionEvent, error) {
	return nil, nil
}
func (*NullLogger) Flush(context.Context) error   { return nil }
func (*NullLogger) Cleanup(context.Context) error { return nil }
func (*NullLogger) Stats() Stats                  { return Stats{} }
func (*NullLogger) IsNull() bool                  { return true }

// MemoryLogger keeps the most recent events in a fixed-capacity ring
// buffer, per spec.md §4.8's "circular buffer, min capacity 100".
type MemoryLogger struct {
	mu       sync.RWMutex
	buf      []ConnectionEvent
	capacity int
	next     int
	filled   bool
}

const minMemoryLoggerCapacity = 100

// NewMemoryLogger builds a ring buffer of the given capacity, clamped
// up to the spec-mandated minimum.
func NewMemoryLogger(capacity int) *MemoryLogger {
	if capacity < minMemoryLoggerCapacity {
		capacity = minMemoryLoggerCapacity
	}
	return &MemoryLogger{buf: make([]ConnectionEvent, capacity), capacity: capacity}
}

func (m *MemoryLogger) Log(_ context.Context, event ConnectionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf[m.next] = event
	m.next = (m.next + 1) % m.capacity
	if m.next == 0 {
		m.filled = true
	}
	return nil
}

func (m *MemoryLogger) snapshot() []ConnectionEvent {
	if m.filled {
		out := make([]ConnectionEvent, 0, m.capacity)
		out = append(out, m.buf[m.next:]...)
		out = append(out, m.buf[:m.next]...)
		return out
	}
	out := make([]ConnectionEvent, m.next)
	copy(out, m.buf[:m.next])
	return out
}

func (m *MemoryLogger) QueryRecent(_ context.Context, limit int) ([]ConnectionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.snapshot()
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	return all[len(all)-limit:], nil
}

func (m *MemoryLogger) QueryConnection(_ context.Context, id uuid.UUID) ([]ConnectionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ConnectionEvent
	for _, e := range m.snapshot() {
		if e.ConnectionID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryLogger) Flush(context.Context) error { return nil }

func (m *MemoryLogger) Cleanup(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf = make([]ConnectionEvent, m.capacity)
	m.next, m.filled = 0, false
	return nil
}

func (m *MemoryLogger) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.snapshot()
	s := Stats{TotalEvents: len(all)}
	if len(all) > 0 {
		s.OldestEvent, s.NewestEvent = all[0].Timestamp, all[len(all)-1].Timestamp
	}
	return s
}

func (m *MemoryLogger) IsNull() bool { return false }

// FileLogger appends one JSON line per event. SecureDelete, if set,
// makes Cleanup overwrite the file (zeros, then an XOR pattern, then
// zeros again) before unlinking it, per spec.md §4.8.
type FileLogger struct {
	mu           sync.Mutex
	path         string
	f            *os.File
	secureDelete bool
	total        int
	oldest, newest time.Time
}

// NewFileLogger opens path for appending, creating it if absent.
func NewFileLogger(path string, secureDelete bool) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("eventbus: open log file: %w", err)
	}
	return &FileLogger{path: path, f: f, secureDelete: secureDelete}, nil
}

func (fl *FileLogger) Log(_ context.Context, event ConnectionEvent) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}
	line = append(line, '\n')
	if _, err := fl.f.Write(line); err != nil {
		return fmt.Errorf("eventbus: write event: %w", err)
	}

	fl.total++
	if fl.oldest.IsZero() {
		fl.oldest = event.Timestamp
	}
	fl.newest = event.Timestamp
	return nil
}

func (fl *FileLogger) readAll() ([]ConnectionEvent, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	raw, err := os.ReadFile(fl.path)
	if err != nil {
		return nil, fmt.Errorf("eventbus: read log file: %w", err)
	}

	var events []ConnectionEvent
	dec := json.NewDecoder(bytes.NewReader(raw))
	for dec.More() {
		var e ConnectionEvent
		if err := dec.Decode(&e); err != nil {
			break
		}
		events = append(events, e)
	}
	return events, nil
}

func (fl *FileLogger) QueryRecent(_ context.Context, limit int) ([]ConnectionEvent, error) {
	events, err := fl.readAll()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(events) {
		limit = len(events)
	}
	return events[len(events)-limit:], nil
}

func (fl *FileLogger) QueryConnection(_ context.Context, id uuid.UUID) ([]ConnectionEvent, error) {
	events, err := fl.readAll()
	if err != nil {
		return nil, err
	}
	var out []ConnectionEvent
	for _, e := range events {
		if e.ConnectionID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (fl *FileLogger) Flush(context.Context) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.f.Sync()
}

// Cleanup closes and removes the log file, optionally performing a
// 3-pass secure delete first: zeros, an XOR 0xFF pattern, zeros, then
// unlink.
func (fl *FileLogger) Cleanup(context.Context) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.secureDelete {
		info, err := fl.f.Stat()
		if err == nil {
			size := info.Size()
			passes := [][]byte{nil, nil, nil}
			for i, fill := range []byte{0x00, 0xFF, 0x00} {
				buf := make([]byte, size)
				for j := range buf {
					buf[j] = fill
				}
				passes[i] = buf
			}
			for _, pass := range passes {
				if _, err := fl.f.WriteAt(pass, 0); err != nil {
					break
				}
				_ = fl.f.Sync()
			}
		}
	}

	_ = fl.f.Close()
	if err := os.Remove(fl.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("eventbus: remove log file: %w", err)
	}
	fl.total = 0
	fl.oldest, fl.newest = time.Time{}, time.Time{}
	return nil
}

func (fl *FileLogger) Stats() Stats {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return Stats{TotalEvents: fl.total, OldestEvent: fl.oldest, NewestEvent: fl.newest}
}

func (fl *FileLogger) IsNull() bool { return false }

// DatabaseLogger persists events to a relational connection_events
// table, indexed by connection_id/timestamp/event_type/username, via
// pgx. Purges rows older than RetentionDays on Cleanup.
type DatabaseLogger struct {
	pool          *pgxpool.Pool
	retentionDays int
}

// NewDatabaseLogger wraps an already-connected pgx pool. Callers own
// schema migration: the connection_events table must already exist with
// the columns that Log inserts.
func NewDatabaseLogger(pool *pgxpool.Pool, retentionDays int) *DatabaseLogger {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &DatabaseLogger{pool: pool, retentionDays: retentionDays}
}

// databaseOverflow carries the fields spec.md §6.7's connection_events
// DDL doesn't name a column for; everything it does name is inserted
// as a real column instead, so these rows are queryable/indexable at
// the SQL level without unpacking JSON.
type databaseOverflow struct {
	AuthDetails string `json:"auth_details,omitempty"`
}

// genericSuccess maps the kind-specific boolean result (auth or
// renegotiation) onto the DDL's single shared "success" column.
func genericSuccess(event ConnectionEvent) sql.NullBool {
	switch event.Kind {
	case Authentication:
		return sql.NullBool{Bool: event.AuthResult, Valid: true}
	case Renegotiation:
		return sql.NullBool{Bool: event.RenegotiationSuccess, Valid: true}
	default:
		return sql.NullBool{}
	}
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableDuration(kind Kind, d time.Duration) any {
	if kind != Disconnected {
		return nil
	}
	return d.Seconds()
}

func nullableStats(stats *TransferStats) (bytesRX, bytesTX, packetsRX, packetsTX any) {
	if stats == nil {
		return nil, nil, nil, nil
	}
	return int64(stats.BytesRX), int64(stats.BytesTX), int64(stats.PacketsRX), int64(stats.PacketsTX)
}

func (d *DatabaseLogger) Log(ctx context.Context, event ConnectionEvent) error {
	overflow, err := json.Marshal(databaseOverflow{AuthDetails: event.AuthDetails})
	if err != nil {
		return fmt.Errorf("eventbus: marshal overflow fields: %w", err)
	}

	bytesRX, bytesTX, packetsRX, packetsTX := nullableStats(event.Stats)

	var disconnectReason any
	if event.Kind == Disconnected {
		disconnectReason = event.Reason.String()
	}

	_, err = d.pool.Exec(ctx, `
		INSERT INTO connection_events
			(connection_id, event_type, "timestamp", client_addr, username,
			 vpn_ip, auth_method, auth_result, disconnect_reason, duration_secs,
			 bytes_rx, bytes_tx, packets_rx, packets_tx, old_addr, new_addr,
			 success, protocol_version, client_info, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, now())`,
		event.ConnectionID, event.Kind.String(), event.Timestamp, event.ClientAddr,
		nullableString(event.Username), nullableString(event.VPNIP),
		nullableString(event.AuthMethod), sqlNullBoolIf(event.Kind == Authentication, event.AuthResult),
		disconnectReason, nullableDuration(event.Kind, event.Duration),
		bytesRX, bytesTX, packetsRX, packetsTX,
		nullableString(event.OldIP), nullableString(event.NewIP),
		genericSuccess(event), nullableString(event.ProtocolVersion),
		nullableString(event.ClientInfo), overflow)
	if err != nil {
		return fmt.Errorf("eventbus: insert event: %w", err)
	}
	return nil
}

func sqlNullBoolIf(applies bool, value bool) sql.NullBool {
	if !applies {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: value, Valid: true}
}

func (d *DatabaseLogger) query(ctx context.Context, where string, args ...any) ([]ConnectionEvent, error) {
	rows, err := d.pool.Query(ctx, fmt.Sprintf(`
		SELECT connection_id, event_type, "timestamp", client_addr, username,
			vpn_ip, auth_method, auth_result, disconnect_reason, duration_secs,
			bytes_rx, bytes_tx, packets_rx, packets_tx, old_addr, new_addr,
			success, protocol_version, client_info, details
		FROM connection_events %s`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: query events: %w", err)
	}
	defer rows.Close()

	var events []ConnectionEvent
	for rows.Next() {
		var (
			eventType                                                                  string
			username, vpnIP, authMethod, oldAddr, newAddr, protocolVersion, clientInfo sql.NullString
			disconnectReason                                                           sql.NullString
			authResult, success                                                        sql.NullBool
			durationSecs                                                               sql.NullFloat64
			bytesRX, bytesTX, packetsRX, packetsTX                                     sql.NullInt64
			overflowRaw                                                                []byte
			e                                                                          ConnectionEvent
		)
		if err := rows.Scan(
			&e.ConnectionID, &eventType, &e.Timestamp, &e.ClientAddr, &username,
			&vpnIP, &authMethod, &authResult, &disconnectReason, &durationSecs,
			&bytesRX, &bytesTX, &packetsRX, &packetsTX, &oldAddr, &newAddr,
			&success, &protocolVersion, &clientInfo, &overflowRaw,
		); err != nil {
			return nil, fmt.Errorf("eventbus: scan event: %w", err)
		}

		e.Kind = ParseKind(eventType)
		e.Username = username.String
		e.VPNIP = vpnIP.String
		e.AuthMethod = authMethod.String
		e.AuthResult = authResult.Bool
		e.Reason = ParseDisconnectReason(disconnectReason.String)
		e.Duration = time.Duration(durationSecs.Float64 * float64(time.Second))
		e.OldIP = oldAddr.String
		e.NewIP = newAddr.String
		e.ProtocolVersion = protocolVersion.String
		e.ClientInfo = clientInfo.String
		if e.Kind == Renegotiation {
			e.RenegotiationSuccess = success.Bool
		}
		if bytesRX.Valid || bytesTX.Valid || packetsRX.Valid || packetsTX.Valid {
			e.Stats = &TransferStats{
				BytesRX:   uint64(bytesRX.Int64),
				BytesTX:   uint64(bytesTX.Int64),
				PacketsRX: uint64(packetsRX.Int64),
				PacketsTX: uint64(packetsTX.Int64),
			}
		}
		if len(overflowRaw) > 0 {
			var overflow databaseOverflow
			if err := json.Unmarshal(overflowRaw, &overflow); err == nil {
				e.AuthDetails = overflow.AuthDetails
			}
		}

		events = append(events, e)
	}
	return events, rows.Err()
}

func (d *DatabaseLogger) QueryRecent(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return d.query(ctx, `ORDER BY "timestamp" DESC LIMIT $1`, limit)
}

func (d *DatabaseLogger) QueryConnection(ctx context.Context, id uuid.UUID) ([]ConnectionEvent, error) {
	return d.query(ctx, `WHERE connection_id = $1 ORDER BY "timestamp" DESC`, id)
}

func (d *DatabaseLogger) Flush(context.Context) error { return nil }

func (d *DatabaseLogger) Cleanup(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -d.retentionDays)
	_, err := d.pool.Exec(ctx, `DELETE FROM connection_events WHERE "timestamp" < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("eventbus: purge old events: %w", err)
	}
	return nil
}

func (d *DatabaseLogger) Stats() Stats { return Stats{} }

func (d *DatabaseLogger) IsNull() bool { return false }

// CompositeLogger writes to every configured back-end but answers
// reads exclusively from the database logger, per spec.md §4.8.
type CompositeLogger struct {
	writers []Logger
	reader  *DatabaseLogger
}

func NewCompositeLogger(reader *DatabaseLogger, writers ...Logger) *CompositeLogger {
	return &CompositeLogger{writers: writers, reader: reader}
}

func (c *CompositeLogger) Log(ctx context.Context, event ConnectionEvent) error {
	var firstErr error
	for _, w := range c.writers {
		if err := w.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *CompositeLogger) QueryRecent(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	return c.reader.QueryRecent(ctx, limit)
}

func (c *CompositeLogger) QueryConnection(ctx context.Context, id uuid.UUID) ([]ConnectionEvent, error) {
	return c.reader.QueryConnection(ctx, id)
}

func (c *CompositeLogger) Flush(ctx context.Context) error {
	var firstErr error
	for _, w := range c.writers {
		if err := w.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *CompositeLogger) Cleanup(ctx context.Context) error {
	var firstErr error
	for _, w := range c.writers {
		if err := w.Cleanup(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *CompositeLogger) Stats() Stats { return c.reader.Stats() }

func (c *CompositeLogger) IsNull() bool { return false }

// NewConnectionID generates a random (v4) connection id, stable for
// the lifetime of one protocol session.
func NewConnectionID() uuid.UUID {
	id, err := uuid.NewRandomFromReader(rand.Reader)
	if err != nil {
		return uuid.New()
	}
	return id
}
