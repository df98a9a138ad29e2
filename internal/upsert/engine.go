// Package upsert applies normalized records to the relational store with
// create-or-update semantics and fixed dependency ordering.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zipsea/cruisesync/internal/entities"
	"github.com/zipsea/cruisesync/internal/normalizer"
)

// Result reports what Apply did for one record.
type Result struct {
	Created bool
}

// Engine reconciles one normalized record per call inside a single
// transaction. Dependency order is fixed: line, ship, ports and regions,
// sailing, itinerary, join rows. Every step is create-if-absent-else-update,
// never insert-or-fail, which is what makes reprocessing a file idempotent.
type Engine struct {
	db       *gorm.DB
	recorder *Recorder
	logger   *zap.SugaredLogger
}

func NewEngine(db *gorm.DB, recorder *Recorder, logger *zap.SugaredLogger) *Engine {
	return &Engine{db: db, recorder: recorder, logger: logger}
}

// Apply writes the record. A duplicate-key race with a concurrent worker on
// the same natural id is converted from insert to update once; a second
// failure surfaces a *ConflictError.
func (e *Engine) Apply(ctx context.Context, rec *normalizer.Record) (Result, error) {
	var result Result
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.upsertLine(tx, rec); err != nil {
			return err
		}
		if err := e.upsertShip(tx, rec); err != nil {
			return err
		}
		if err := e.upsertPorts(tx, rec); err != nil {
			return err
		}
		if err := e.upsertRegions(tx, rec); err != nil {
			return err
		}

		created, err := e.upsertSailing(tx, rec)
		if err != nil {
			return err
		}
		result.Created = created

		if err := e.replaceItinerary(tx, rec); err != nil {
			return err
		}
		if err := e.replaceJoinRows(tx, rec); err != nil {
			return err
		}
		return nil
	})
	return result, err
}

func (e *Engine) upsertLine(tx *gorm.DB, rec *normalizer.Record) error {
	var line entities.CruiseLine
	err := tx.First(&line, "id = ?", rec.LineID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		line = entities.CruiseLine{ID: rec.LineID, Name: rec.LineName, Code: rec.LineCode}
		if line.Name == "" {
			line.Name = fmt.Sprintf("Line %d", rec.LineID)
		}
		return e.createOrUpdate(tx, &line, "cruise line", rec.LineID, func() error {
			return tx.Model(&entities.CruiseLine{}).Where("id = ?", rec.LineID).
				Update("name", line.Name).Error
		})
	}
	if err != nil {
		return err
	}
	// Only the name is refreshed on re-sighting.
	if rec.LineName != "" && rec.LineName != line.Name {
		return tx.Model(&line).Update("name", rec.LineName).Error
	}
	return nil
}

func (e *Engine) upsertShip(tx *gorm.DB, rec *normalizer.Record) error {
	var ship entities.Ship
	err := tx.First(&ship, "id = ?", rec.ShipID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		ship = entities.Ship{
			ID:       rec.ShipID,
			LineID:   rec.LineID,
			Name:     rec.ShipName,
			Tonnage:  rec.ShipTonnage,
			Capacity: rec.ShipCap,
		}
		if ship.Name == "" {
			ship.Name = fmt.Sprintf("Ship %d", rec.ShipID)
		}
		return e.createOrUpdate(tx, &ship, "ship", rec.ShipID, func() error {
			return tx.Model(&entities.Ship{}).Where("id = ?", rec.ShipID).
				Updates(map[string]any{"line_id": rec.LineID, "name": ship.Name}).Error
		})
	}
	if err != nil {
		return err
	}

	updates := map[string]any{"line_id": rec.LineID}
	if rec.ShipName != "" {
		updates["name"] = rec.ShipName
	}
	if rec.ShipTonnage != nil {
		updates["tonnage"] = *rec.ShipTonnage
	}
	if rec.ShipCap != nil {
		updates["capacity"] = *rec.ShipCap
	}
	return tx.Model(&ship).Updates(updates).Error
}

// referencedPortIDs gathers every port id the sailing touches: the visited
// set, embark/disembark, and itinerary stops.
func referencedPortIDs(rec *normalizer.Record) []uint {
	seen := map[uint]bool{}
	var ids []uint
	add := func(id uint) {
		if id > 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, id := range rec.PortIDs {
		add(id)
	}
	if rec.EmbarkPortID != nil {
		add(*rec.EmbarkPortID)
	}
	if rec.DisembarkPortID != nil {
		add(*rec.DisembarkPortID)
	}
	for _, day := range rec.Itinerary {
		if day.PortID != nil {
			add(*day.PortID)
		}
	}
	return ids
}

func (e *Engine) upsertPorts(tx *gorm.DB, rec *normalizer.Record) error {
	for _, id := range referencedPortIDs(rec) {
		name := rec.PortNames[id]
		if name == "" {
			name = fmt.Sprintf("Port %d", id)
		}
		var port entities.Port
		err := tx.First(&port, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			port = entities.Port{ID: id, Name: name}
			if err := e.createOrUpdate(tx, &port, "port", id, func() error {
				return tx.Model(&entities.Port{}).Where("id = ?", id).Update("name", name).Error
			}); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		// Replace a placeholder once the feed supplies a real name.
		if rec.PortNames[id] != "" && port.Name != rec.PortNames[id] {
			if err := tx.Model(&port).Update("name", rec.PortNames[id]).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) upsertRegions(tx *gorm.DB, rec *normalizer.Record) error {
	for _, id := range rec.RegionIDs {
		name := rec.RegionNames[id]
		if name == "" {
			name = fmt.Sprintf("Region %d", id)
		}
		var region entities.Region
		err := tx.First(&region, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			region = entities.Region{ID: id, Name: name}
			if err := e.createOrUpdate(tx, &region, "region", id, func() error {
				return tx.Model(&entities.Region{}).Where("id = ?", id).Update("name", name).Error
			}); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if rec.RegionNames[id] != "" && region.Name != rec.RegionNames[id] {
			if err := tx.Model(&region).Update("name", rec.RegionNames[id]).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) upsertSailing(tx *gorm.DB, rec *normalizer.Record) (bool, error) {
	now := time.Now()

	var existing entities.Sailing
	err := tx.First(&existing, "code_to_cruise_id = ?", rec.CodeToCruiseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		sailing := buildSailing(rec, now)
		if err := tx.SavePoint("before_sailing_create").Error; err != nil {
			return false, err
		}
		createErr := tx.Create(&sailing).Error
		if createErr == nil {
			return true, nil
		}
		if !errors.Is(createErr, gorm.ErrDuplicatedKey) {
			return false, createErr
		}
		if rbErr := tx.RollbackTo("before_sailing_create").Error; rbErr != nil {
			return false, rbErr
		}
		// Lost a create race: re-read and fall through to the update path.
		if reread := tx.First(&existing, "code_to_cruise_id = ?", rec.CodeToCruiseID).Error; reread != nil {
			return false, &ConflictError{Entity: "sailing", ID: rec.CodeToCruiseID, Err: createErr}
		}
		return false, e.updateSailing(tx, &existing, rec, now)
	}
	if err != nil {
		return false, err
	}
	return false, e.updateSailing(tx, &existing, rec, now)
}

func (e *Engine) updateSailing(tx *gorm.DB, existing *entities.Sailing, rec *normalizer.Record, now time.Time) error {
	if pricesChanged(existing, rec.Prices) {
		if err := e.recorder.Snapshot(tx, existing); err != nil {
			return err
		}
	}

	sailing := buildSailing(rec, now)
	sailing.CreatedAt = existing.CreatedAt
	// Save writes every column; the cheapest price was recomputed in
	// buildSailing so it can never go stale relative to the class prices.
	return tx.Save(&sailing).Error
}

func buildSailing(rec *normalizer.Record, now time.Time) entities.Sailing {
	return entities.Sailing{
		CodeToCruiseID:  rec.CodeToCruiseID,
		CruiseID:        rec.CruiseID,
		LineID:          rec.LineID,
		ShipID:          rec.ShipID,
		Name:            rec.Name,
		SailingDate:     rec.SailDate,
		Nights:          rec.Nights,
		EmbarkPortID:    rec.EmbarkPortID,
		DisembarkPortID: rec.DisembarkPortID,
		InteriorPrice:   rec.Prices.Interior,
		OceanviewPrice:  rec.Prices.Oceanview,
		BalconyPrice:    rec.Prices.Balcony,
		SuitePrice:      rec.Prices.Suite,
		CheapestPrice:   rec.Prices.Cheapest(),
		Currency:        rec.Currency,
		RawJSON:         rec.Raw,
		Active:          true,
		LastSyncedAt:    now,
	}
}

func pricesChanged(existing *entities.Sailing, incoming normalizer.Prices) bool {
	return !floatEq(existing.InteriorPrice, incoming.Interior) ||
		!floatEq(existing.OceanviewPrice, incoming.Oceanview) ||
		!floatEq(existing.BalconyPrice, incoming.Balcony) ||
		!floatEq(existing.SuitePrice, incoming.Suite)
}

func floatEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// replaceItinerary deletes and reinserts the itinerary for the sailing. The
// feed always carries the complete itinerary per record.
func (e *Engine) replaceItinerary(tx *gorm.DB, rec *normalizer.Record) error {
	if err := tx.Where("code_to_cruise_id = ?", rec.CodeToCruiseID).
		Delete(&entities.ItineraryDay{}).Error; err != nil {
		return err
	}
	for _, day := range rec.Itinerary {
		row := entities.ItineraryDay{
			CodeToCruiseID: rec.CodeToCruiseID,
			DayNumber:      day.DayNumber,
			PortName:       day.PortName,
			PortID:         day.PortID,
			ArriveTime:     day.ArriveTime,
			DepartTime:     day.DepartTime,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) replaceJoinRows(tx *gorm.DB, rec *normalizer.Record) error {
	if err := tx.Where("code_to_cruise_id = ?", rec.CodeToCruiseID).
		Delete(&entities.SailingRegion{}).Error; err != nil {
		return err
	}
	for i, regionID := range rec.RegionIDs {
		row := entities.SailingRegion{CodeToCruiseID: rec.CodeToCruiseID, RegionID: regionID, Position: i}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}

	if err := tx.Where("code_to_cruise_id = ?", rec.CodeToCruiseID).
		Delete(&entities.SailingPort{}).Error; err != nil {
		return err
	}
	for i, portID := range rec.PortIDs {
		row := entities.SailingPort{CodeToCruiseID: rec.CodeToCruiseID, PortID: portID, Position: i}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// createOrUpdate creates the row and, on a duplicate-key race with another
// worker, retries as an update exactly once. The create runs inside a
// savepoint: postgres refuses further statements in a transaction after a
// failed one, so the savepoint must be rolled back before the update.
func (e *Engine) createOrUpdate(tx *gorm.DB, row any, entity string, id uint, update func() error) error {
	if err := tx.SavePoint("before_create").Error; err != nil {
		return err
	}
	err := tx.Create(row).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return err
	}
	if rbErr := tx.RollbackTo("before_create").Error; rbErr != nil {
		return rbErr
	}
	e.logger.Debugw("create raced, converting to update", "entity", entity, "id", id, "error", err)
	if updateErr := update(); updateErr != nil {
		return &ConflictError{Entity: entity, ID: id, Err: err}
	}
	return nil
}
