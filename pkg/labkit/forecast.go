package labkit

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/trialkit/platform/pkg/common/config"
	"github.com/trialkit/platform/pkg/common/models"
)

const (
	StatusOK       = "ok"
	StatusWarning  = "warning"
	StatusCritical = "critical"

	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Kit statuses the supply resolver looks at. Only "available" counts toward
// on-hand supply; the rest are scanned so a unit in transit is never double
// counted as free stock.
var supplyStatuses = []string{"available", "assigned", "pending_shipment", "shipped", "expired"}

const kitStatusAvailable = "available"

// EngineConfig collects every tunable threshold the forecast and alerting
// math depends on, so none of them live as scattered literals.
type EngineConfig struct {
	DefaultDaysAhead      int
	MaxDaysAhead          int
	SlackWarningThreshold int
	Limits                PolicyLimits
	Alerts                AlertPolicy
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultDaysAhead:      30,
		MaxDaysAhead:          180,
		SlackWarningThreshold: 2,
		Limits:                DefaultPolicyLimits(),
		Alerts:                DefaultAlertPolicy(),
	}
}

func EngineConfigFromEnv(cfg *config.Config) EngineConfig {
	return EngineConfig{
		DefaultDaysAhead:      cfg.ForecastDefaultDaysAhead,
		MaxDaysAhead:          cfg.ForecastMaxDaysAhead,
		SlackWarningThreshold: cfg.ForecastSlackWarningThreshold,
		Limits: PolicyLimits{
			MaxInventoryBufferDays:   cfg.MaxInventoryBufferDays,
			MaxVisitWindowBufferDays: cfg.MaxVisitWindowBufferDays,
			MaxDeliveryDays:          cfg.MaxDeliveryDays,
		},
		Alerts: AlertPolicy{
			DefaultResurfaceDays:     cfg.AlertDefaultResurfaceDays,
			DeficitRestoreMultiplier: cfg.AlertDeficitRestoreMultiplier,
			DeficitRestoreThreshold:  cfg.AlertDeficitRestoreThreshold,
			ExpiryCountMultiplier:    cfg.AlertExpiryCountMultiplier,
			ExpiryWindowShrinkDays:   cfg.AlertExpiryWindowShrinkDays,
		},
	}
}

// ResolveWindow turns the requested horizon into the window the engine
// actually forecasts over: days clamped to (0, max], extended by the study's
// visit-window buffer.
func (c EngineConfig) ResolveWindow(requestedDays int, policy StudyPolicy) (daysAhead, effectiveDaysAhead int) {
	daysAhead = requestedDays
	if daysAhead <= 0 {
		daysAhead = c.DefaultDaysAhead
	}
	if daysAhead > c.MaxDaysAhead {
		daysAhead = c.MaxDaysAhead
	}
	return daysAhead, daysAhead + policy.VisitWindowBufferDays
}

// Input is the snapshot of study data a single forecast is computed from.
type Input struct {
	Policy       StudyPolicy
	KitTypes     []models.KitType
	Schedules    []models.VisitSchedule
	Requirements []models.VisitRequirement
	Visits       []models.SubjectVisit
	Kits         []models.LabKit
	Orders       []models.KitOrder
	DaysAhead    int
	Today        time.Time
}

// entryState is the working record in the aggregation arena. The embedded
// ForecastEntry is what ultimately leaves the engine; the rest is scratch the
// later passes need.
type entryState struct {
	models.ForecastEntry
	policy    KitPolicy
	surgeQty  int
	firstSeen int
}

// arena holds forecast entries keyed by a stable identity: the kit-type id
// when one exists, or a name sentinel for legacy requirements recorded before
// kit types were normalized. Entries keep creation order so output is
// deterministic regardless of map iteration.
type arena struct {
	byID    map[uuid.UUID]*entryState
	byName  map[string]*entryState
	entries []*entryState
}

func newArena() *arena {
	return &arena{
		byID:   make(map[uuid.UUID]*entryState),
		byName: make(map[string]*entryState),
	}
}

func normalizeKitName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// resolveByID finds the entry tracking a kit-type id.
func (a *arena) resolveByID(id uuid.UUID) *entryState {
	return a.byID[id]
}

// resolveByNormalizedName finds the entry tracking a legacy kit-type name.
func (a *arena) resolveByNormalizedName(name string) *entryState {
	return a.byName[normalizeKitName(name)]
}

// resolve applies both identity strategies in order: byId, then
// byNormalizedName. Returns nil when the unit belongs to no tracked
// requirement.
func (a *arena) resolve(id *uuid.UUID, name string) *entryState {
	if id != nil {
		if entry := a.resolveByID(*id); entry != nil {
			return entry
		}
	}
	if normalized := normalizeKitName(name); normalized != "" {
		return a.resolveByNormalizedName(normalized)
	}
	return nil
}

// adoptID registers a kit-type id onto an entry that was first created under
// a name key, so later id-keyed supply and orders still resolve to it. An id
// already tracked elsewhere is left alone.
func (a *arena) adoptID(entry *entryState, id uuid.UUID) {
	if _, taken := a.byID[id]; taken {
		return
	}
	a.byID[id] = entry
	if entry.KitTypeID == nil {
		adopted := id
		entry.KitTypeID = &adopted
	}
}

func (a *arena) add(entry *entryState) {
	entry.firstSeen = len(a.entries)
	a.entries = append(a.entries, entry)
	if entry.KitTypeID != nil {
		a.byID[*entry.KitTypeID] = entry
	}
	if normalized := normalizeKitName(entry.KitTypeName); normalized != "" {
		a.byName[normalized] = entry
	}
}

// Compute runs the full forecast pipeline over one in-memory snapshot:
// arena build, demand aggregation, supply resolution, buffer/deficit math,
// risk scoring, ranking, and summary.
func Compute(cfg EngineConfig, in Input) ([]models.ForecastEntry, models.ForecastSummary, models.AlertMetrics) {
	policy := ClampStudyPolicy(cfg.Limits, in.Policy)
	daysAhead, effectiveDays := cfg.ResolveWindow(in.DaysAhead, policy)

	today := utcDay(in.Today)
	windowEnd := today.AddDate(0, 0, effectiveDays)
	expiryWindowDays := clampInt(effectiveDays, 1, 30)
	expiryWindowEnd := today.AddDate(0, 0, expiryWindowDays)

	kitTypesByID := make(map[uuid.UUID]*models.KitType, len(in.KitTypes))
	for i := range in.KitTypes {
		kitTypesByID[in.KitTypes[i].ID] = &in.KitTypes[i]
	}
	scheduleNames := make(map[uuid.UUID]string, len(in.Schedules))
	for _, s := range in.Schedules {
		scheduleNames[s.ID] = s.Name
	}

	// Pass 1: build the arena from visit requirements. Each entry resolves
	// its effective policy once; optionality is the AND of every
	// requirement referencing the entry.
	entries := newArena()
	for i := range in.Requirements {
		req := &in.Requirements[i]
		entry := entries.resolve(req.KitTypeID, req.KitTypeName)
		if entry == nil {
			entry = buildEntry(cfg.Limits, policy, req, kitTypesByID)
			entries.add(entry)
		} else if req.KitTypeID != nil {
			entries.adoptID(entry, *req.KitTypeID)
		}
		entry.Optional = entry.Optional && req.IsOptional
	}

	// Group scheduled visits inside the window by their visit-schedule row.
	visitDates := make(map[uuid.UUID][]time.Time)
	totalVisits := 0
	for _, visit := range in.Visits {
		if visit.Status != "scheduled" {
			continue
		}
		day := utcDay(visit.VisitDate)
		if day.Before(today) || day.After(windowEnd) {
			continue
		}
		visitDates[visit.VisitScheduleID] = append(visitDates[visit.VisitScheduleID], day)
		totalVisits++
	}

	// Pass 2: attach demand. The near-term surge window depends on the
	// entry's resolved delivery days, so it is tallied here as well.
	for i := range in.Requirements {
		req := &in.Requirements[i]
		entry := entries.resolve(req.KitTypeID, req.KitTypeName)
		if entry == nil {
			continue
		}
		dates := visitDates[req.VisitScheduleID]
		required := len(dates) * req.QuantityPerVisit
		entry.Requirements = append(entry.Requirements, models.RequirementBreakdown{
			VisitScheduleID:  req.VisitScheduleID,
			VisitName:        scheduleNames[req.VisitScheduleID],
			QuantityPerVisit: req.QuantityPerVisit,
			IsOptional:       req.IsOptional,
			VisitsScheduled:  len(dates),
			KitsRequired:     required,
		})
		entry.VisitsScheduled += len(dates)
		entry.KitsRequired += required

		surgeEnd := today.AddDate(0, 0, maxInt(7, entry.policy.DeliveryDays))
		for _, day := range dates {
			if !day.After(surgeEnd) {
				entry.surgeQty += req.QuantityPerVisit
			}
		}
	}

	// Supply resolution: on-hand units and pending orders. Units and orders
	// that match no tracked requirement are silently excluded.
	metrics := models.AlertMetrics{}
	for i := range in.Kits {
		kit := &in.Kits[i]
		entry := entries.resolve(kit.KitTypeID, kit.KitTypeName)
		if entry == nil || kit.Status != kitStatusAvailable {
			continue
		}
		entry.KitsAvailable++
		if kit.ExpirationDate == nil {
			continue
		}
		expiry := utcDay(*kit.ExpirationDate)
		if expiry.Before(today) || expiry.After(expiryWindowEnd) {
			continue
		}
		entry.KitsExpiringSoon++
		if metrics.ExpiringSoon.EarliestExpiryDate == nil || expiry.Before(*metrics.ExpiringSoon.EarliestExpiryDate) {
			e := expiry
			metrics.ExpiringSoon.EarliestExpiryDate = &e
		}
	}
	for i := range in.Orders {
		order := &in.Orders[i]
		if order.Status != "pending" {
			continue
		}
		entry := entries.resolve(order.KitTypeID, order.KitTypeName)
		if entry == nil {
			continue
		}
		entry.PendingOrderQuantity += order.Quantity
		overdue := order.ExpectedArrival != nil && utcDay(*order.ExpectedArrival).Before(today)
		entry.PendingOrders = append(entry.PendingOrders, models.PendingOrderInfo{
			OrderID:         order.ID,
			Quantity:        order.Quantity,
			ExpectedArrival: order.ExpectedArrival,
			IsOverdue:       overdue,
		})
	}

	// Buffer, deficit, status, and risk per entry.
	for _, entry := range entries.entries {
		computeBuffer(entry, effectiveDays)
		classifyStatus(cfg, entry)
		scoreRisk(entry)

		metrics.SupplyDeficit.TotalDeficit += entry.Deficit
		if entry.Deficit > 0 {
			metrics.SupplyDeficit.KitTypesWithDeficit++
		}
		metrics.ExpiringSoon.Count += entry.KitsExpiringSoon
	}

	rankEntries(entries.entries)

	forecast := make([]models.ForecastEntry, 0, len(entries.entries))
	summary := models.ForecastSummary{
		TotalVisitsScheduled: totalVisits,
		KitTypesTracked:      len(entries.entries),
		DaysAhead:            daysAhead,
		EffectiveDaysAhead:   effectiveDays,
		VisitWindowBuffer:    policy.VisitWindowBufferDays,
	}
	for _, entry := range entries.entries {
		forecast = append(forecast, entry.ForecastEntry)
		switch entry.Status {
		case StatusCritical:
			summary.CriticalCount++
		case StatusWarning:
			summary.WarningCount++
		}
		switch entry.RiskLevel {
		case RiskHigh:
			summary.HighRiskCount++
		case RiskMedium:
			summary.MediumRiskCount++
		}
	}

	return forecast, summary, metrics
}

func buildEntry(limits PolicyLimits, policy StudyPolicy, req *models.VisitRequirement, kitTypes map[uuid.UUID]*models.KitType) *entryState {
	entry := &entryState{}
	entry.Optional = true

	var kt *models.KitType
	if req.KitTypeID != nil {
		kt = kitTypes[*req.KitTypeID]
	}
	switch {
	case kt != nil:
		id := kt.ID
		entry.KitTypeID = &id
		entry.KitTypeName = kt.Name
		entry.Key = id.String()
	case req.KitTypeID != nil:
		// Requirement references a kit type the study no longer carries;
		// keep the id key so supply can still match it.
		id := *req.KitTypeID
		entry.KitTypeID = &id
		entry.KitTypeName = req.KitTypeName
		entry.Key = id.String()
	default:
		entry.KitTypeName = req.KitTypeName
		entry.Key = "name:" + normalizeKitName(req.KitTypeName)
	}

	entry.policy = resolveKitPolicy(limits, policy, kt)
	return entry
}

// computeBuffer applies the buffer and deficit formulas: two independently
// ceil'd cushions summed, floored by the minimum spare-unit count. The
// actionable deficit counts pending orders as coverage; originalDeficit does
// not, which is how "short but an order is inbound" is detected. The order
// recommendation instead discounts stock expiring inside the window.
func computeBuffer(entry *entryState, effectiveDays int) {
	entry.DailyBurnRate = float64(entry.KitsRequired) / float64(maxInt(1, effectiveDays))

	safetyCushion := int(math.Ceil(entry.DailyBurnRate * float64(entry.policy.SafetyDays)))
	leadTimeCushion := int(math.Ceil(entry.DailyBurnRate * float64(entry.policy.DeliveryDays)))

	entry.BufferKitsNeeded = maxInt(safetyCushion+leadTimeCushion, entry.policy.MinCount)
	entry.RequiredWithBuffer = entry.KitsRequired + entry.BufferKitsNeeded

	entry.OriginalDeficit = maxInt(0, entry.RequiredWithBuffer-entry.KitsAvailable)
	entry.Deficit = maxInt(0, entry.RequiredWithBuffer-(entry.KitsAvailable+entry.PendingOrderQuantity))

	usableKits := maxInt(0, entry.KitsAvailable-entry.KitsExpiringSoon)
	entry.RecommendedOrderQty = maxInt(0, entry.RequiredWithBuffer-(usableKits+entry.PendingOrderQuantity))
}

// classifyStatus applies the status rules in order; the first match wins.
func classifyStatus(cfg EngineConfig, entry *entryState) {
	usableKits := maxInt(0, entry.KitsAvailable-entry.KitsExpiringSoon)
	slackAfterPending := entry.KitsAvailable + entry.PendingOrderQuantity - entry.RequiredWithBuffer
	slackAfterExpiry := usableKits + entry.PendingOrderQuantity - entry.RequiredWithBuffer

	switch {
	case entry.Deficit > 0:
		if entry.Optional {
			entry.Status = StatusWarning
		} else {
			entry.Status = StatusCritical
		}
	case entry.OriginalDeficit > 0 && entry.PendingOrderQuantity > 0:
		entry.Status = StatusWarning
	case entry.RequiredWithBuffer == 0:
		if entry.KitsExpiringSoon > 0 {
			entry.Status = StatusWarning
		} else {
			entry.Status = StatusOK
		}
	case slackAfterPending <= cfg.SlackWarningThreshold || entry.KitsExpiringSoon > 0 || slackAfterExpiry < 0:
		entry.Status = StatusWarning
	default:
		entry.Status = StatusOK
	}
}

// scoreRisk derives the bounded risk score from additive factors, each
// capped individually before the sum is capped at 100.
func scoreRisk(entry *entryState) {
	usableKits := maxInt(0, entry.KitsAvailable-entry.KitsExpiringSoon)
	slackAfterExpiry := usableKits + entry.PendingOrderQuantity - entry.RequiredWithBuffer

	var factors []models.RiskFactor
	addFactor := func(name string, score int) {
		factors = append(factors, models.RiskFactor{Factor: name, Score: score})
	}

	if entry.Deficit > 0 {
		addFactor("deficit", minInt(60, 40+entry.Deficit*5))
	} else if entry.OriginalDeficit > 0 {
		addFactor("covered", 25)
	}
	if entry.KitsExpiringSoon > 0 {
		addFactor("expiry", minInt(20, entry.KitsExpiringSoon*4))
	}
	if entry.surgeQty > 0 {
		addFactor("surge", minInt(25, entry.surgeQty*3))
	}
	if entry.policy.DeliveryDays > 0 {
		addFactor("delivery", minInt(15, entry.policy.DeliveryDays))
	}
	if slackAfterExpiry < 0 {
		addFactor("expiry_slack", 15)
	}

	score := 0
	for _, f := range factors {
		score += f.Score
	}
	entry.RiskScore = minInt(100, score)
	entry.RiskFactors = factors

	switch {
	case entry.Deficit > 0 || entry.RiskScore >= 70:
		entry.RiskLevel = RiskHigh
	case entry.RiskScore >= 40 || entry.RecommendedOrderQty > 0:
		entry.RiskLevel = RiskMedium
	default:
		entry.RiskLevel = RiskLow
	}
}

var riskLevelRank = map[string]int{RiskHigh: 0, RiskMedium: 1, RiskLow: 2}
var statusRank = map[string]int{StatusCritical: 0, StatusWarning: 1, StatusOK: 2}

// rankEntries orders entries most-urgent first: risk level, then risk score,
// then status severity, then deficit, then scheduled-visit volume, with
// arena insertion order as the final deterministic tie break.
func rankEntries(entries []*entryState) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if riskLevelRank[a.RiskLevel] != riskLevelRank[b.RiskLevel] {
			return riskLevelRank[a.RiskLevel] < riskLevelRank[b.RiskLevel]
		}
		if a.RiskScore != b.RiskScore {
			return a.RiskScore > b.RiskScore
		}
		if statusRank[a.Status] != statusRank[b.Status] {
			return statusRank[a.Status] < statusRank[b.Status]
		}
		if a.Deficit != b.Deficit {
			return a.Deficit > b.Deficit
		}
		if a.VisitsScheduled != b.VisitsScheduled {
			return a.VisitsScheduled > b.VisitsScheduled
		}
		return a.firstSeen < b.firstSeen
	})
}

// utcDay truncates to the UTC calendar day; all window comparisons are done
// on whole days.
func utcDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
