package api

import (
	"net/http"
	"strconv"
	"time"

	"cssd/internal/assets"
	"cssd/internal/audit"
	"cssd/internal/engine"
	"cssd/internal/ledger"
	"cssd/internal/models"
	"cssd/internal/overdue"
	"cssd/internal/packs"
	"cssd/internal/sets"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

// --- transactions ---

func (s *Server) handleCreateTransaction(c *gin.Context) {
	var req engine.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.CreatedBy = staff(c)

	txn, warnings, err := s.engine.Create(req)
	if err != nil {
		fail(c, err)
		return
	}
	s.recorder.RecordTransaction(string(txn.Type), string(txn.Status))

	c.JSON(http.StatusCreated, gin.H{
		"transaction": txn,
		"warnings":    warnings,
	})
}

func (s *Server) handleListTransactions(c *gin.Context) {
	query := s.db.Preload("Items").Preload("SetItems").Order("created_at desc")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if unit := c.Query("unit_id"); unit != "" {
		query = query.Where("unit_id = ?", unit)
	}

	var txns []models.Transaction
	if err := query.Limit(200).Find(&txns).Error; err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, txns)
}

func (s *Server) handleGetTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var txn models.Transaction
	if err := s.db.Preload("Items").Preload("SetItems").First(&txn, id).Error; err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

type validateRequest struct {
	Lines []engine.VerificationLine `json:"lines"`
	Notes string                    `json:"notes"`
}

func (s *Server) handleValidateTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.engine.Validate(id, req.Lines, req.Notes, staff(c))
	if err != nil {
		fail(c, err)
		return
	}

	var txn models.Transaction
	if err := s.db.First(&txn, id).Error; err == nil {
		s.recorder.RecordTransaction(string(txn.Type), string(txn.Status))
		if result.HasDiscrepancy {
			s.recorder.RecordDiscrepancy(string(txn.Type))
		}
		if txn.ValidatedAt != nil {
			s.recorder.RecordValidationDelay(string(txn.Type), txn.ValidatedAt.Sub(txn.CreatedAt).Seconds())
		}
	}

	c.JSON(http.StatusOK, result)
}

type reverseRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) handleReverseTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reverseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.engine.Reverse(id, staff(c), req.Reason); err != nil {
		fail(c, err)
		return
	}
	var txn models.Transaction
	if err := s.db.First(&txn, id).Error; err == nil {
		s.recorder.RecordTransaction(string(txn.Type), string(txn.Status))
	}
	c.JSON(http.StatusOK, gin.H{"status": models.TxReversed})
}

// --- instruments ---

type instrumentRequest struct {
	Code         string `json:"code" binding:"required"`
	Name         string `json:"name" binding:"required"`
	Category     string `json:"category"`
	MeasureUnit  string `json:"measure_unit"`
	IsSerialized bool   `json:"is_serialized"`
	InitialStock int    `json:"initial_stock"`
}

func (s *Server) handleCreateInstrument(c *gin.Context) {
	var req instrumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.InitialStock < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "initial stock cannot be negative"})
		return
	}

	inst := models.Instrument{
		Code:         req.Code,
		Name:         req.Name,
		Category:     req.Category,
		MeasureUnit:  req.MeasureUnit,
		IsSerialized: req.IsSerialized,
		IsActive:     true,
	}

	// initial stock enters through the ledger like every other quantity,
	// so the movement history starts at the true zero point
	tx := s.db.Begin()
	if tx.Error != nil {
		fail(c, tx.Error)
		return
	}
	if err := tx.Create(&inst).Error; err != nil {
		s.ledger.Rollback(tx)
		fail(c, err)
		return
	}
	if req.InitialStock > 0 {
		if err := s.ledger.Adjust(tx, inst.ID, ledger.LocationCSSD, req.InitialStock,
			"initial-stock", uuid.NewString()); err != nil {
			s.ledger.Rollback(tx)
			fail(c, err)
			return
		}
	}
	if err := s.ledger.Commit(tx); err != nil {
		fail(c, err)
		return
	}

	if err := s.db.First(&inst, inst.ID).Error; err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, inst)
}

func (s *Server) handleListInstruments(c *gin.Context) {
	query := s.db.Order("code")
	if c.Query("active") == "true" {
		query = query.Where("is_active = ?", true)
	}
	var instruments []models.Instrument
	if err := query.Find(&instruments).Error; err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, instruments)
}

type instrumentPatch struct {
	Name        *string `json:"name"`
	Category    *string `json:"category"`
	MeasureUnit *string `json:"measure_unit"`
	IsActive    *bool   `json:"is_active"`
}

func (s *Server) handleUpdateInstrument(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req instrumentPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var inst models.Instrument
	if err := s.db.First(&inst, id).Error; err != nil {
		fail(c, err)
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Category != nil {
		updates["category"] = *req.Category
	}
	if req.MeasureUnit != nil {
		updates["measure_unit"] = *req.MeasureUnit
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) > 0 {
		if err := s.db.Model(&inst).Updates(updates).Error; err != nil {
			fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) handleInstrumentMovements(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var movements []models.LedgerMovement
	err := s.db.Where("instrument_id = ?", id).
		Order("id desc").Limit(500).Find(&movements).Error
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, movements)
}

func (s *Server) handleInstrumentStock(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var inst models.Instrument
	if err := s.db.Preload("UnitStocks").First(&inst, id).Error; err != nil {
		fail(c, err)
		return
	}

	units := make(map[string]int, len(inst.UnitStocks))
	for _, us := range inst.UnitStocks {
		units[ledger.UnitLocation(us.UnitID)] = us.Quantity
		s.recorder.SetStockLevel(inst.Code, ledger.UnitLocation(us.UnitID), us.Quantity)
	}
	s.recorder.SetStockLevel(inst.Code, ledger.LocationCSSD, inst.CSSDStock)
	s.recorder.SetStockLevel(inst.Code, ledger.LocationDirty, inst.DirtyStock)
	s.recorder.SetStockLevel(inst.Code, ledger.LocationPacking, inst.PackingStock)
	s.recorder.SetStockLevel(inst.Code, ledger.LocationBroken, inst.BrokenStock)
	s.recorder.SetStockLevel(inst.Code, ledger.LocationMissing, inst.MissingStock)
	c.JSON(http.StatusOK, gin.H{
		"instrument_id": inst.ID,
		"total":         inst.TotalStock,
		"cssd":          inst.CSSDStock,
		"dirty":         inst.DirtyStock,
		"packing":       inst.PackingStock,
		"broken":        inst.BrokenStock,
		"missing":       inst.MissingStock,
		"units":         units,
	})
}

// --- assets ---

type generateAssetsRequest struct {
	Prefix    string `json:"prefix" binding:"required"`
	Count     int    `json:"count" binding:"required"`
	StartFrom int    `json:"start_from"`
}

func (s *Server) handleGenerateAssets(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req generateAssetsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := assets.BatchGenerate(s.db, id, req.Prefix, req.Count, req.StartFrom)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleListAssets(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	list, err := assets.ByInstrument(s.db, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type assetPatch struct {
	Status   *string `json:"status"`
	Location *string `json:"location"`
	IsActive *bool   `json:"is_active"`
}

func (s *Server) handleUpdateAsset(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req assetPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	asset, err := assets.Update(s.db, id, assets.Patch{
		Status:   req.Status,
		Location: req.Location,
		IsActive: req.IsActive,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

func (s *Server) handleDeactivateAsset(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := assets.Deactivate(s.db, id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- sets ---

type setRequest struct {
	Name  string `json:"name" binding:"required"`
	Items []struct {
		InstrumentID uint `json:"instrument_id"`
		Quantity     int  `json:"quantity"`
	} `json:"items" binding:"required"`
}

func (s *Server) handleCreateSet(c *gin.Context) {
	var req setRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "set requires at least one member"})
		return
	}

	set := models.InstrumentSet{Name: req.Name, IsActive: true}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "member quantity must be positive"})
			return
		}
		set.Items = append(set.Items, models.SetItem{
			InstrumentID: item.InstrumentID,
			Quantity:     item.Quantity,
		})
	}
	if err := s.db.Create(&set).Error; err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, set)
}

func (s *Server) handleListSets(c *gin.Context) {
	var list []models.InstrumentSet
	if err := s.db.Preload("Items").Order("name").Find(&list).Error; err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleSetAvailability(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	location := c.DefaultQuery("location", ledger.LocationCSSD)
	available, err := sets.Available(s.db, id, location)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"set_id": id, "location": location, "available": available})
}

type setPatch struct {
	Name     *string `json:"name"`
	IsActive *bool   `json:"is_active"`
}

func (s *Server) handleUpdateSet(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req setPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var set models.InstrumentSet
	if err := s.db.First(&set, id).Error; err != nil {
		fail(c, err)
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) > 0 {
		if err := s.db.Model(&set).Updates(updates).Error; err != nil {
			fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, set)
}

// --- units ---

type unitRequest struct {
	Name   string `json:"name" binding:"required"`
	Type   string `json:"type" binding:"required"`
	Suffix string `json:"suffix" binding:"required"`
}

func (s *Server) handleCreateUnit(c *gin.Context) {
	var req unitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	unit := models.Unit{
		Name:     req.Name,
		Type:     req.Type,
		Code:     models.UnitCode(req.Type, req.Suffix),
		IsActive: true,
	}
	if err := s.db.Create(&unit).Error; err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, unit)
}

func (s *Server) handleListUnits(c *gin.Context) {
	var units []models.Unit
	if err := s.db.Order("code").Find(&units).Error; err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, units)
}

func (s *Server) handleDeactivateUnit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var unit models.Unit
	if err := s.db.First(&unit, id).Error; err != nil {
		fail(c, err)
		return
	}
	if err := s.db.Model(&unit).Update("is_active", false).Error; err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUnitOverdue(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	has, lines, err := overdue.UnitOverdue(s.db, id, time.Now())
	if err != nil {
		fail(c, err)
		return
	}
	s.recorder.SetOverdueLines(strconv.FormatUint(uint64(id), 10), len(lines))
	c.JSON(http.StatusOK, gin.H{"overdue": has, "lines": lines})
}

type stockTakeRequest struct {
	Lines []audit.CountedLine `json:"lines" binding:"required"`
}

func (s *Server) handleStockTake(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req stockTakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	take, err := audit.StockTake(s.db, id, req.Lines, staff(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, take)
}

// --- sterilization pipeline ---

type washRequest struct {
	Items []packs.ItemQuantity `json:"items" binding:"required"`
}

func (s *Server) handleWash(c *gin.Context) {
	var req washRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.tracker.Wash(s.db, req.Items); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"washed": len(req.Items)})
}

type createPackRequest struct {
	Items        []packs.ItemQuantity `json:"items" binding:"required"`
	TargetUnitID *uint                `json:"target_unit_id"`
}

func (s *Server) handleCreatePack(c *gin.Context) {
	var req createPackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pack, err := s.tracker.CreatePack(s.db, req.Items, req.TargetUnitID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, pack)
}

type sterilizeRequest struct {
	PackIDs  []uint               `json:"pack_ids"`
	Items    []packs.ItemQuantity `json:"items"`
	Machine  string               `json:"machine" binding:"required"`
	Operator string               `json:"operator"`
	Outcome  models.BatchOutcome  `json:"outcome" binding:"required"`
}

func (s *Server) handleSterilize(c *gin.Context) {
	var req sterilizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	operator := req.Operator
	if operator == "" {
		operator = staff(c)
	}

	batch, labels, err := s.tracker.Sterilize(s.db, req.PackIDs, req.Items, req.Machine, operator, req.Outcome)
	if err != nil {
		fail(c, err)
		return
	}
	s.recorder.RecordSterilizationBatch(string(req.Outcome))
	c.JSON(http.StatusCreated, gin.H{"batch": batch, "labels": labels})
}

// --- audit and admin ---

func (s *Server) handleAuditRun(c *gin.Context) {
	report, err := audit.Run(s.db)
	if err != nil {
		fail(c, err)
		return
	}
	s.monitor.Set("last_audit_findings", len(report.Findings))
	s.monitor.Set("last_audit_at", report.RanAt.Format(time.RFC3339))
	c.JSON(http.StatusOK, report)
}

type adminAdjustRequest struct {
	InstrumentID uint   `json:"instrument_id" binding:"required"`
	Location     string `json:"location" binding:"required"`
	Delta        int    `json:"delta" binding:"required"`
	Reason       string `json:"reason" binding:"required"`
}

func (s *Server) handleAdminAdjust(c *gin.Context) {
	var req adminAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor := staff(c)
	if actor == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "admin adjustment requires an identified actor"})
		return
	}

	if err := s.engine.AdminAdjust(req.InstrumentID, req.Location, req.Delta, actor, req.Reason); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"adjusted": true})
}

func (s *Server) handleRecomputeTotals(c *gin.Context) {
	actor := staff(c)
	if actor == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "recompute requires an identified actor"})
		return
	}
	repaired, err := audit.RecomputeTotals(s.db, actor)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repaired": repaired})
}
