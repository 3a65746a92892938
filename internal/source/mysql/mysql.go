// Package mysql implements a Source (internal/source) over a MySQL binary
// log, using GTIDs as the position token and global transaction identifiers
// to frame row events into complete transactions.
package mysql

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	gmysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	log "github.com/sirupsen/logrus"

	"github.com/estuary/cdc-relay/internal/cdcerror"
	"github.com/estuary/cdc-relay/internal/cdcvalue"
	"github.com/estuary/cdc-relay/internal/event"
	"github.com/estuary/cdc-relay/internal/metrics"
	"github.com/estuary/cdc-relay/internal/source"
)

const (
	backoffInitial   = 100 * time.Millisecond
	backoffFactor    = 2.0
	backoffCap       = 5 * time.Second
	serverIDMaxRetry = 5
	sourceType       = "mysql"
)

// Config configures a Source against a single MySQL instance.
type Config struct {
	Host     string
	User     string
	Password string
	Port     uint16
	// ServerID is the base replica identity registered with the master.
	// On a server-id collision the source perturbs this value and retries.
	ServerID uint32
}

// Source streams row-level changes from a MySQL binary log via
// replication.BinlogSyncer, addressing position by GTID set.
type Source struct {
	cfg Config

	startPos event.Position
	currPos  event.Position

	syncer   *replication.BinlogSyncer
	streamer *replication.BinlogStreamer
}

func New(cfg Config) *Source {
	return &Source{cfg: cfg}
}

func (s *Source) SetStartPosition(pos event.Position) { s.startPos = pos }

func (s *Source) CurrentPosition() event.Position { return s.currPos }

func (s *Source) SourceType() string { return sourceType }

func (s *Source) SourceID() string { return s.cfg.Host }

// Connect validates the upstream's replication settings, then opens a
// BinlogSyncer session at s.startPos (or the current log head if empty).
// A registration collision on the replica server id is retried with a
// capped exponential backoff and jitter, perturbing the server id on each
// attempt, per spec.md §4.1.
func (s *Source) Connect(ctx context.Context) error {
	validator := SettingsValidator{Host: s.cfg.Host, User: s.cfg.User, Password: s.cfg.Password, Port: s.cfg.Port}
	if err := validator.Validate(); err != nil {
		return err
	}

	gtidSet, err := s.startGTIDSet()
	if err != nil {
		return cdcerror.Wrap(cdcerror.Configuration, "parse start position", err)
	}

	serverID := s.cfg.ServerID
	wait := backoffInitial
	var lastErr error
	for attempt := 1; attempt <= serverIDMaxRetry; attempt++ {
		s.syncer = replication.NewBinlogSyncer(replication.BinlogSyncerConfig{
			ServerID: serverID,
			Flavor:   "mysql",
			Host:     s.cfg.Host,
			Port:     s.cfg.Port,
			User:     s.cfg.User,
			Password: s.cfg.Password,
		})

		var streamer *replication.BinlogStreamer
		if gtidSet != nil {
			streamer, err = s.syncer.StartSyncGTID(gtidSet)
		} else {
			streamer, err = s.syncer.StartSync(gmysql.Position{})
		}
		if err == nil {
			s.streamer = streamer
			log.WithFields(log.Fields{"host": s.cfg.Host, "server_id": serverID, "attempt": attempt}).Info("mysql source: connected")
			return nil
		}

		lastErr = err
		s.syncer.Close()
		if !isServerIDCollision(err) {
			return cdcerror.Wrap(cdcerror.DataSource, "start binlog sync", err)
		}

		metrics.SourceServerIDCollisionsTotal.WithLabelValues(sourceType, s.cfg.Host).Inc()
		log.WithFields(log.Fields{"server_id": serverID, "attempt": attempt, "error": err}).
			Warn("mysql source: server id collision, retrying with a new id")

		jitter := time.Duration(rand.Int63n(int64(wait) + 1))
		time.Sleep(wait/2 + jitter/2)
		wait = time.Duration(math.Min(float64(wait)*backoffFactor, float64(backoffCap)))
		serverID = perturbServerID(serverID)
	}

	return cdcerror.Wrap(cdcerror.DataSource, fmt.Sprintf("server id collision persisted after %d attempts", serverIDMaxRetry), lastErr)
}

func perturbServerID(id uint32) uint32 {
	return id + uint32(rand.Intn(1<<16)) + 1
}

func isServerIDCollision(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "server id") || strings.Contains(msg, "server_id")
}

// startGTIDSet converts s.startPos (a "uuid:txn" token, per CurrentPosition)
// into the "uuid:1-txn" interval form StartSyncGTID expects. An empty start
// position resumes from the current log head.
func (s *Source) startGTIDSet() (gmysql.GTIDSet, error) {
	if s.startPos.Empty() {
		return nil, nil
	}
	uuid, txn, ok := strings.Cut(string(s.startPos), ":")
	if !ok {
		return nil, fmt.Errorf("malformed gtid position %q", s.startPos)
	}
	n, err := strconv.ParseInt(txn, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed gtid transaction number %q: %w", txn, err)
	}
	return gmysql.ParseGTIDSet("mysql", fmt.Sprintf("%s:1-%d", uuid, n))
}

func (s *Source) Listen(ctx context.Context) (source.Iterator, error) {
	if s.streamer == nil {
		return nil, cdcerror.New(cdcerror.DataSource, "mysql source: not connected")
	}
	return &iterator{src: s, pending: nil}, nil
}

func (s *Source) Disconnect() error {
	if s.syncer == nil {
		return nil
	}
	s.syncer.Close()
	s.syncer = nil
	s.streamer = nil
	return nil
}

// iterator frames the raw binlog event stream into row-level change events.
// A GTIDEvent opens an in-flight transaction token; RowsEvents within it are
// buffered as pending Events tagged with that token; an XIDEvent or a
// QueryEvent carrying "COMMIT" closes the transaction and advances
// Source.currPos, per spec.md §4.1's transaction framing.
type iterator struct {
	src     *Source
	pending []event.Event
	err     error

	inFlightGTID string
	inFlightTxn  int64
}

func (it *iterator) Err() error { return it.err }

func (it *iterator) Next(ctx context.Context) (event.Event, bool) {
	for {
		if len(it.pending) > 0 {
			ev := it.pending[0]
			it.pending = it.pending[1:]
			return ev, true
		}

		be, err := it.src.streamer.GetEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return event.Event{}, false
			}
			it.err = cdcerror.Wrap(cdcerror.DataSource, "read binlog event", err)
			return event.Event{}, false
		}

		switch ev := be.Event.(type) {
		case *replication.GTIDEvent:
			it.openTransaction(ev)
		case *replication.MariadbGTIDEvent:
			// Flavor is fixed to "mysql"; present defensively for
			// forwards compatibility with a MariaDB flavor switch.
			continue
		case *replication.QueryEvent:
			if strings.EqualFold(strings.TrimSpace(string(ev.Query)), "COMMIT") {
				it.closeTransaction()
			}
		case *replication.XIDEvent:
			it.closeTransaction()
		case *replication.RowsEvent:
			it.bufferRows(be, ev)
		}
	}
}

func (it *iterator) openTransaction(ev *replication.GTIDEvent) {
	sid, err := uuidString(ev.SID)
	if err != nil {
		log.WithError(err).Warn("mysql source: failed to format gtid source id")
		return
	}
	it.inFlightGTID = sid
	it.inFlightTxn = ev.GNO
}

func (it *iterator) closeTransaction() {
	if it.inFlightGTID == "" {
		return
	}
	it.src.currPos = event.Position(fmt.Sprintf("%s:%d", it.inFlightGTID, it.inFlightTxn))
}

func (it *iterator) bufferRows(be *replication.BinlogEvent, rows *replication.RowsEvent) {
	if it.inFlightGTID == "" {
		log.Warn("mysql source: row event received before any gtid event, dropping")
		return
	}

	typ, ok := rowEventType(be.Header.EventType)
	if !ok {
		return
	}

	pos := event.Position(fmt.Sprintf("%s:%d", it.inFlightGTID, it.inFlightTxn))
	schema := string(rows.Table.Schema)
	table := string(rows.Table.Table)

	switch typ {
	case event.Update:
		for i := 0; i+1 < len(rows.Rows); i += 2 {
			it.pending = append(it.pending, event.Event{
				Type:     event.Update,
				Database: schema,
				Table:    table,
				Position: pos,
				Content: event.Content{
					Before: cdcvalue.From(rows.Rows[i]),
					After:  cdcvalue.From(rows.Rows[i+1]),
				},
			})
		}
	case event.Insert:
		for _, row := range rows.Rows {
			it.pending = append(it.pending, event.Event{
				Type: event.Insert, Database: schema, Table: table, Position: pos,
				Content: event.Content{After: cdcvalue.From(row)},
			})
		}
	case event.Delete:
		for _, row := range rows.Rows {
			it.pending = append(it.pending, event.Event{
				Type: event.Delete, Database: schema, Table: table, Position: pos,
				Content: event.Content{Before: cdcvalue.From(row)},
			})
		}
	}
}

func rowEventType(t replication.EventType) (event.Type, bool) {
	switch t {
	case replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		return event.Insert, true
	case replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		return event.Update, true
	case replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		return event.Delete, true
	default:
		return "", false
	}
}

func uuidString(b []byte) (string, error) {
	if len(b) != 16 {
		return "", fmt.Errorf("unexpected gtid sid length %d", len(b))
	}
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16]), nil
}
