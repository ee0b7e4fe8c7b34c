// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/ClusterCockpit/kt-gateway/pkg/lrucache"
	"github.com/ClusterCockpit/kt-gateway/pkg/schema"
)

var (
	circuitRepoOnce     sync.Once
	circuitRepoInstance *CircuitRepository
)

// CircuitRepository reads and writes circuit metadata. Mapping writes are
// best-effort from the caller's point of view: the collector logs failures
// and keeps processing frames.
type CircuitRepository struct {
	DB        *sqlx.DB
	driver    string
	stmtCache *sq.StmtCache
	cache     *lrucache.Cache
}

func GetCircuitRepository() *CircuitRepository {
	circuitRepoOnce.Do(func() {
		db := GetConnection()

		circuitRepoInstance = &CircuitRepository{
			DB:        db.DB,
			driver:    db.Driver,
			stmtCache: sq.NewStmtCache(db.DB),
			cache:     lrucache.New(1024 * 1024),
		}
	})
	return circuitRepoInstance
}

func circuitColumns() []string {
	cols := []string{"id", "name", "upstream_url"}
	for i := 1; i <= schema.MaxColumns; i++ {
		cols = append(cols, fmt.Sprintf("c%d", i))
	}
	return append(cols, "auto_detect_ok", "detected_at")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCircuit(row rowScanner) (*schema.Circuit, error) {
	circuit := &schema.Circuit{}
	cells := make([]sql.NullString, schema.MaxColumns)
	var autoDetect sql.NullBool
	var detectedAt sql.NullInt64

	dest := []any{&circuit.ID, &circuit.Name, &circuit.UpstreamURL}
	for i := range cells {
		dest = append(dest, &cells[i])
	}
	dest = append(dest, &autoDetect, &detectedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	circuit.Mappings = schema.ColumnMapping{}
	for i, cell := range cells {
		if cell.Valid && cell.String != "" {
			circuit.Mappings[schema.ColumnIDFor(i+1)] = cell.String
		}
	}
	if autoDetect.Valid {
		v := autoDetect.Bool
		circuit.AutoDetectOK = &v
	}
	if detectedAt.Valid {
		v := detectedAt.Int64
		circuit.DetectedAt = &v
	}
	return circuit, nil
}

// GetCircuit fetches one circuit including its persisted column mappings.
func (r *CircuitRepository) GetCircuit(circuitID string) (*schema.Circuit, error) {
	cachekey := "circuit:" + circuitID
	if cached := r.cache.Get(cachekey); cached != nil {
		return cached.(*schema.Circuit), nil
	}

	row := sq.Select(circuitColumns()...).From("circuit").
		Where("circuit.id = ?", circuitID).
		RunWith(r.stmtCache).QueryRow()

	circuit, err := scanCircuit(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		cclog.Warnf("Error while querying circuit '%s' from database", circuitID)
		return nil, err
	}

	r.cache.Put(cachekey, circuit, 1000, 5*time.Minute)
	return circuit, nil
}

// ListCircuits returns all configured circuits.
func (r *CircuitRepository) ListCircuits() ([]*schema.Circuit, error) {
	rows, err := sq.Select(circuitColumns()...).From("circuit").
		OrderBy("id").RunWith(r.stmtCache).Query()
	if err != nil {
		cclog.Warn("Error while listing circuits")
		return nil, err
	}
	defer rows.Close()

	circuits := make([]*schema.Circuit, 0)
	for rows.Next() {
		circuit, err := scanCircuit(rows)
		if err != nil {
			return nil, err
		}
		circuits = append(circuits, circuit)
	}
	return circuits, rows.Err()
}

// AddCircuit inserts a circuit row without mappings.
func (r *CircuitRepository) AddCircuit(circuitID, name, upstreamURL string) error {
	_, err := sq.Insert("circuit").
		Columns("id", "name", "upstream_url").
		Values(circuitID, name, upstreamURL).
		RunWith(r.DB).Exec()
	if err != nil {
		cclog.Warnf("Error while inserting circuit '%s'", circuitID)
		return err
	}
	return nil
}

// DeleteCircuit removes a circuit and its connection log.
func (r *CircuitRepository) DeleteCircuit(circuitID string) error {
	if _, err := sq.Delete("connection_log").
		Where("connection_log.circuit_id = ?", circuitID).
		RunWith(r.DB).Exec(); err != nil {
		cclog.Warnf("Error while deleting connection log of circuit '%s'", circuitID)
		return err
	}

	res, err := sq.Delete("circuit").
		Where("circuit.id = ?", circuitID).
		RunWith(r.DB).Exec()
	if err != nil {
		cclog.Warnf("Error while deleting circuit '%s'", circuitID)
		return err
	}
	r.cache.Del("circuit:" + circuitID)

	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetMappings returns the persisted column mapping of a circuit; an empty
// mapping if none was learned yet.
func (r *CircuitRepository) GetMappings(circuitID string) (schema.ColumnMapping, error) {
	circuit, err := r.GetCircuit(circuitID)
	if err != nil {
		return nil, err
	}
	return circuit.Mappings.Clone(), nil
}

// UpdateMappings writes a learned mapping: mapped columns get their field
// name, unused columns are set to null, and the auto-detection flag and
// timestamp are recorded.
func (r *CircuitRepository) UpdateMappings(ctx context.Context, circuitID string, m schema.ColumnMapping) error {
	q := sq.Update("circuit")
	for i := 1; i <= schema.MaxColumns; i++ {
		if field, ok := m[schema.ColumnIDFor(i)]; ok {
			q = q.Set(fmt.Sprintf("c%d", i), field)
		} else {
			q = q.Set(fmt.Sprintf("c%d", i), nil)
		}
	}
	q = q.Set("auto_detect_ok", true).
		Set("detected_at", time.Now().Unix()).
		Where("circuit.id = ?", circuitID)

	res, err := q.RunWith(r.DB).ExecContext(ctx)
	if err != nil {
		cclog.Warnf("Error while updating mappings for circuit '%s'", circuitID)
		return err
	}
	r.cache.Del("circuit:" + circuitID)

	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	cclog.Infof("Persisted %d auto-detected mappings for circuit %s", len(m), circuitID)
	return nil
}

// MarkNeedsConfiguration records a failed auto-detection: all columns null
// plus the failure flag, so operators know the circuit requires manual
// column configuration.
func (r *CircuitRepository) MarkNeedsConfiguration(ctx context.Context, circuitID string) error {
	q := sq.Update("circuit")
	for i := 1; i <= schema.MaxColumns; i++ {
		q = q.Set(fmt.Sprintf("c%d", i), nil)
	}
	q = q.Set("auto_detect_ok", false).
		Set("detected_at", time.Now().Unix()).
		Where("circuit.id = ?", circuitID)

	res, err := q.RunWith(r.DB).ExecContext(ctx)
	if err != nil {
		cclog.Warnf("Error while marking circuit '%s' for manual configuration", circuitID)
		return err
	}
	r.cache.Del("circuit:" + circuitID)

	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	cclog.Warnf("Circuit %s marked for manual configuration", circuitID)
	return nil
}
