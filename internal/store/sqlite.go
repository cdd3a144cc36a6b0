package store

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ippclub/dora-registry/internal/model"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName is returned when a package name is already taken.
	ErrDuplicateName = errors.New("package name already exists")
	// ErrDuplicateRevision is returned when a package already has a version for a revision.
	ErrDuplicateRevision = errors.New("package revision already exists")
	// ErrUnavailable wraps every other persistence failure.
	ErrUnavailable = errors.New("store unavailable")
)

const driverName = "sqlite3_registry"

// Column weights for the rank function, in packages_fts column order.
var rankWeights = []float64{2.0, 1.0}

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("rank", rankMatchInfo, true)
		},
	})
}

// rankMatchInfo scores an FTS4 row from matchinfo(..., 'pcx'). Each matched
// phrase contributes the share of its corpus-wide hits that fall in this row,
// weighted by column.
func rankMatchInfo(info []byte) float64 {
	if len(info) < 8 || len(info)%4 != 0 {
		return 0
	}
	ints := make([]uint32, len(info)/4)
	for i := range ints {
		ints[i] = binary.NativeEndian.Uint32(info[i*4:])
	}

	phrases, cols := int(ints[0]), int(ints[1])
	if len(ints) < 2+3*phrases*cols {
		return 0
	}

	var score float64
	for p := 0; p < phrases; p++ {
		for c := 0; c < cols; c++ {
			x := ints[2+3*(p*cols+c):]
			hitsThisRow, hitsAllRows := x[0], x[1]
			if hitsThisRow == 0 || hitsAllRows == 0 {
				continue
			}
			weight := 1.0
			if c < len(rankWeights) {
				weight = rankWeights[c]
			}
			score += weight * float64(hitsThisRow) / float64(hitsAllRows)
		}
	}
	return score
}

// SQLiteStore implements the package and version stores using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (and migrates) the registry database under dataPath
func NewSQLiteStore(dataPath string, logger *zap.Logger) (*SQLiteStore, error) {
	return Open(filepath.Join(dataPath, "dora-registry.db"), logger)
}

// Open opens the database file at dbPath
func Open(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", dbPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(model.Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug("database opened", zap.String("path", dbPath))

	return &SQLiteStore{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, ErrUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
