package engine

import (
	"fmt"
	"time"

	"cssd/internal/assets"
	"cssd/internal/ledger"
	"cssd/internal/models"
	"cssd/internal/overdue"
	"cssd/internal/packs"
	"cssd/internal/sets"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	"github.com/rs/zerolog/log"
)

// Engine is the transaction state machine. Every operation runs as one
// database transaction: either the full set of ledger mutations applies or
// none of it does.
type Engine struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	packs  *packs.Tracker
	now    func() time.Time
}

// New creates a transaction engine
func New(db *gorm.DB, l *ledger.Ledger, tracker *packs.Tracker) *Engine {
	return &Engine{db: db, ledger: l, packs: tracker, now: time.Now}
}

// WithClock overrides the engine clock, used by overdue checks
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// ItemRequest is one single-instrument line of a create request. Quantity
// is the declared ok count; broken and missing are declared write-offs.
type ItemRequest struct {
	InstrumentID  uint     `json:"instrument_id"`
	Quantity      int      `json:"quantity"`
	BrokenCount   int      `json:"broken_count"`
	MissingCount  int      `json:"missing_count"`
	SerialNumbers []string `json:"serial_numbers"`
}

// SetRequest is one set line of a create request, in set units
type SetRequest struct {
	SetID        uint `json:"set_id"`
	Quantity     int  `json:"quantity"`
	BrokenCount  int  `json:"broken_count"`
	MissingCount int  `json:"missing_count"`
}

// CreateRequest describes a transaction to create
type CreateRequest struct {
	Type               models.TransactionType `json:"type"`
	UnitID             uint                   `json:"unit_id"`
	Items              []ItemRequest          `json:"items"`
	SetItems           []SetRequest           `json:"set_items"`
	PackIDs            []uint                 `json:"pack_ids"`
	ExpectedReturnDate *time.Time             `json:"expected_return_date"`
	CreatedBy          string                 `json:"-"`
}

// Create validates the request, atomically debits the source location and
// credits the destination with the declared quantities, and persists the
// transaction as PENDING. Returned warnings are advisory (FIFO pack age)
// and never block.
func (e *Engine) Create(req CreateRequest) (*models.Transaction, []string, error) {
	if err := validateCreate(req); err != nil {
		return nil, nil, err
	}

	tx := e.db.Begin()
	if tx.Error != nil {
		return nil, nil, tx.Error
	}

	txn, warnings, err := e.create(tx, req)
	if err != nil {
		e.ledger.Rollback(tx)
		return nil, nil, err
	}
	if err := e.ledger.Commit(tx); err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("code", txn.Code).
		Str("type", string(txn.Type)).
		Uint("unit", txn.UnitID).
		Str("created_by", txn.CreatedBy).
		Msg("transaction created")

	return txn, warnings, nil
}

func (e *Engine) create(tx *gorm.DB, req CreateRequest) (*models.Transaction, []string, error) {
	var unit models.Unit
	if err := tx.First(&unit, req.UnitID).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, nil, fmt.Errorf("unknown unit %d: %w", req.UnitID, ErrValidation)
		}
		return nil, nil, err
	}
	if !unit.IsActive {
		return nil, nil, fmt.Errorf("unit %s is inactive: %w", unit.Code, ErrValidation)
	}

	// hard precondition: a unit sitting on overdue stock cannot receive more
	if req.Type == models.TxDistribute {
		has, lines, err := overdue.UnitOverdue(tx, req.UnitID, e.now())
		if err != nil {
			return nil, nil, err
		}
		if has {
			return nil, nil, fmt.Errorf("unit %s has %d overdue lines: %w", unit.Code, len(lines), ErrOverdueBlocked)
		}
	}

	code := uuid.NewString()
	src, dst := routes(req.Type, req.UnitID)

	var warnings []string
	for _, packID := range req.PackIDs {
		pack, err := e.packs.Consume(tx, packID, req.UnitID)
		if err != nil {
			return nil, nil, err
		}
		// consuming a pack hands its sterile contents to the unit
		for _, item := range pack.Items {
			if err := e.ledger.Move(tx, item.InstrumentID, src, dst, item.Quantity, "pack-consume", code); err != nil {
				return nil, nil, err
			}
		}
		older, err := e.packs.OlderAvailablePack(tx, pack)
		if err != nil {
			return nil, nil, err
		}
		if older != nil {
			warnings = append(warnings, fmt.Sprintf(
				"pack %s: older pack %s with identical content should be consumed first", pack.Code, older.Code))
		}
	}

	setItems := make([]models.TransactionSetItem, 0, len(req.SetItems))
	for _, s := range req.SetItems {
		need := s.Quantity + s.BrokenCount + s.MissingCount
		available, err := sets.Available(tx, s.SetID, src)
		if err != nil {
			return nil, nil, err
		}
		if available < need {
			return nil, nil, fmt.Errorf("set %d at %s (available %d, need %d): %w",
				s.SetID, src, available, need, ledger.ErrInsufficientStock)
		}

		if err := e.moveExpanded(tx, s.SetID, s.Quantity, src, dst, "transaction-create", code); err != nil {
			return nil, nil, err
		}
		if err := e.moveExpanded(tx, s.SetID, s.BrokenCount, src, ledger.LocationBroken, "declared-broken", code); err != nil {
			return nil, nil, err
		}
		if err := e.moveExpanded(tx, s.SetID, s.MissingCount, src, ledger.LocationMissing, "declared-missing", code); err != nil {
			return nil, nil, err
		}

		item := models.TransactionSetItem{
			InstrumentSetID: s.SetID,
			Quantity:        s.Quantity,
			BrokenCount:     s.BrokenCount,
			MissingCount:    s.MissingCount,
		}
		if req.Type == models.TxDistribute {
			item.OutstandingQty = s.Quantity
		}
		setItems = append(setItems, item)
	}

	items := make([]models.TransactionItem, 0, len(req.Items))
	for _, it := range req.Items {
		var inst models.Instrument
		if err := tx.First(&inst, it.InstrumentID).Error; err != nil {
			if gorm.IsRecordNotFoundError(err) {
				return nil, nil, fmt.Errorf("unknown instrument %d: %w", it.InstrumentID, ErrValidation)
			}
			return nil, nil, err
		}
		if !inst.IsActive {
			return nil, nil, fmt.Errorf("instrument %s is inactive: %w", inst.Code, ErrValidation)
		}

		need := it.Quantity + it.BrokenCount + it.MissingCount
		stock, err := ledger.StockAt(tx, it.InstrumentID, src)
		if err != nil {
			return nil, nil, err
		}
		if stock < need {
			return nil, nil, fmt.Errorf("instrument %s at %s (available %d, need %d): %w",
				inst.Code, src, stock, need, ledger.ErrInsufficientStock)
		}

		assetIDs, err := e.assignSerials(tx, &inst, it, req.Type, req.UnitID)
		if err != nil {
			return nil, nil, err
		}

		if err := e.ledger.Move(tx, it.InstrumentID, src, dst, it.Quantity, "transaction-create", code); err != nil {
			return nil, nil, err
		}
		if err := e.ledger.Move(tx, it.InstrumentID, src, ledger.LocationBroken, it.BrokenCount, "declared-broken", code); err != nil {
			return nil, nil, err
		}
		if err := e.ledger.Move(tx, it.InstrumentID, src, ledger.LocationMissing, it.MissingCount, "declared-missing", code); err != nil {
			return nil, nil, err
		}

		item := models.TransactionItem{
			InstrumentID:  it.InstrumentID,
			Quantity:      it.Quantity,
			BrokenCount:   it.BrokenCount,
			MissingCount:  it.MissingCount,
			SerialNumbers: it.SerialNumbers,
			AssetIDs:      assetIDs,
		}
		if req.Type == models.TxDistribute {
			item.OutstandingQty = it.Quantity
		}
		items = append(items, item)
	}

	txn := models.Transaction{
		Code:      code,
		Type:      req.Type,
		UnitID:    req.UnitID,
		Status:    models.TxPending,
		PackIDs:   req.PackIDs,
		CreatedBy: req.CreatedBy,
		Items:     items,
		SetItems:  setItems,
	}
	if req.Type == models.TxDistribute {
		txn.ExpectedReturnDate = req.ExpectedReturnDate
	}
	if err := tx.Create(&txn).Error; err != nil {
		return nil, nil, err
	}

	return &txn, warnings, nil
}

// assignSerials resolves and reassigns declared serial numbers. Any serial
// that does not resolve to an asset in a state compatible with the
// transaction direction fails the whole creation.
func (e *Engine) assignSerials(tx *gorm.DB, inst *models.Instrument, it ItemRequest, txType models.TransactionType, unitID uint) (models.UintSlice, error) {
	if !inst.IsSerialized {
		if len(it.SerialNumbers) > 0 {
			return nil, fmt.Errorf("instrument %s is not serialized: %w", inst.Code, ErrValidation)
		}
		return nil, nil
	}

	need := it.Quantity + it.BrokenCount + it.MissingCount
	if len(it.SerialNumbers) != need {
		return nil, fmt.Errorf("instrument %s: %d serials declared for %d units: %w",
			inst.Code, len(it.SerialNumbers), need, ErrValidation)
	}

	assetIDs := make(models.UintSlice, 0, len(it.SerialNumbers))
	for _, serial := range it.SerialNumbers {
		asset, err := assets.BySerial(tx, inst.ID, serial)
		if err != nil {
			return nil, err
		}

		switch txType {
		case models.TxDistribute:
			if asset.Status != string(models.AssetReady) {
				return nil, fmt.Errorf("serial %s is %s, expected %s: %w",
					serial, asset.Status, models.AssetReady, assets.ErrUnknownAsset)
			}
			if err := assets.Assign(tx, asset.ID, ledger.UnitLocation(unitID), models.AssetInUse); err != nil {
				return nil, err
			}
		default:
			if asset.Status != string(models.AssetInUse) || asset.Location != ledger.UnitLocation(unitID) {
				return nil, fmt.Errorf("serial %s is %s at %s, expected %s at the unit: %w",
					serial, asset.Status, asset.Location, models.AssetInUse, assets.ErrUnknownAsset)
			}
			if err := assets.Assign(tx, asset.ID, ledger.LocationCSSD, models.AssetDirty); err != nil {
				return nil, err
			}
		}
		assetIDs = append(assetIDs, asset.ID)
	}
	return assetIDs, nil
}

func (e *Engine) moveExpanded(tx *gorm.DB, setID uint, count int, src, dst, reason, code string) error {
	if count <= 0 {
		return nil
	}
	reqs, err := sets.Expand(tx, setID, count)
	if err != nil {
		return err
	}
	for _, r := range reqs {
		if err := e.ledger.Move(tx, r.InstrumentID, src, dst, r.Quantity, reason, code); err != nil {
			return err
		}
	}
	return nil
}

func routes(txType models.TransactionType, unitID uint) (src, dst string) {
	if txType == models.TxDistribute {
		return ledger.LocationCSSD, ledger.UnitLocation(unitID)
	}
	return ledger.UnitLocation(unitID), ledger.LocationDirty
}

func validateCreate(req CreateRequest) error {
	switch req.Type {
	case models.TxDistribute, models.TxCollect, models.TxReturnDirty:
	default:
		return fmt.Errorf("unknown transaction type %q: %w", req.Type, ErrValidation)
	}

	if len(req.Items) == 0 && len(req.SetItems) == 0 && len(req.PackIDs) == 0 {
		return fmt.Errorf("transaction has no lines: %w", ErrValidation)
	}
	if len(req.PackIDs) > 0 && req.Type != models.TxDistribute {
		return fmt.Errorf("sterile packs can only be consumed by distribute: %w", ErrValidation)
	}
	if req.ExpectedReturnDate != nil && req.Type != models.TxDistribute {
		return fmt.Errorf("expected return date only applies to distribute: %w", ErrValidation)
	}

	for _, it := range req.Items {
		if it.Quantity < 0 || it.BrokenCount < 0 || it.MissingCount < 0 {
			return fmt.Errorf("negative counts on instrument %d: %w", it.InstrumentID, ErrValidation)
		}
		if it.Quantity+it.BrokenCount+it.MissingCount == 0 {
			return fmt.Errorf("empty line for instrument %d: %w", it.InstrumentID, ErrValidation)
		}
	}
	for _, s := range req.SetItems {
		if s.Quantity < 0 || s.BrokenCount < 0 || s.MissingCount < 0 {
			return fmt.Errorf("negative counts on set %d: %w", s.SetID, ErrValidation)
		}
		if s.Quantity+s.BrokenCount+s.MissingCount == 0 {
			return fmt.Errorf("empty line for set %d: %w", s.SetID, ErrValidation)
		}
	}
	return nil
}
