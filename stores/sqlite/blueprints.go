package sqlite

import (
	"context"
	"database/sql"
	stdlog "log"

	"blueprints-relay/core"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

type blueprintStore struct {
	db *sql.DB
}

func NewBlueprintStore(dataSourceName string) core.BlueprintStore {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		stdlog.Fatal(err)
	}

	// Points are rows so an append never rewrites the document; insertion
	// order is the draw order.
	schema := `CREATE TABLE IF NOT EXISTS points (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		author TEXT NOT NULL,
		name TEXT NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_points_blueprint ON points (author, name);`
	if _, err := db.Exec(schema); err != nil {
		stdlog.Fatal(err)
	}

	return &blueprintStore{db}
}

func (s *blueprintStore) AppendPoint(ctx context.Context, id core.BlueprintID, point core.Point) error {
	log := logrus.WithFields(logrus.Fields{
		"author": id.Author,
		"name":   id.Name,
	})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO points (author, name, x, y) VALUES (?, ?, ?, ?)",
		id.Author, id.Name, point.X, point.Y)
	if err != nil {
		log.WithField("error", err).Error("Failed to append point")
		return err
	}

	log.Debug("Point appended")
	return nil
}

func (s *blueprintStore) Find(ctx context.Context, id core.BlueprintID) (*core.BlueprintRecord, error) {
	log := logrus.WithFields(logrus.Fields{
		"author": id.Author,
		"name":   id.Name,
	})
	log.Debug("Retrieving blueprint")

	rows, err := s.db.QueryContext(ctx,
		"SELECT x, y FROM points WHERE author = ? AND name = ? ORDER BY seq ASC",
		id.Author, id.Name)
	if err != nil {
		log.WithField("error", err).Error("Failed to retrieve blueprint")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close point rows")
		}
	}()

	var points []core.Point
	for rows.Next() {
		var point core.Point
		if err := rows.Scan(&point.X, &point.Y); err != nil {
			log.WithField("error", err).Error("Failed to scan point")
			return nil, err
		}
		points = append(points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(points) == 0 {
		log.Debug("Blueprint not found")
		return nil, core.ErrBlueprintNotFound
	}

	return &core.BlueprintRecord{Author: id.Author, Name: id.Name, Points: points}, nil
}

func (s *blueprintStore) List(ctx context.Context) ([]core.BlueprintID, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT author, name FROM points ORDER BY author, name")
	if err != nil {
		logrus.WithField("error", err).Error("Failed to list blueprints")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close blueprint rows")
		}
	}()

	var ids []core.BlueprintID
	for rows.Next() {
		var id core.BlueprintID
		if err := rows.Scan(&id.Author, &id.Name); err != nil {
			logrus.WithField("error", err).Error("Failed to scan blueprint identity")
			continue
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
