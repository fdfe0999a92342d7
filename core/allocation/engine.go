package allocation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/batteryctl/core/model"
)

// Direction is the power flow the fleet has to provide in a cycle.
type Direction int

const (
	Neutral Direction = iota
	Discharge
	Charge
)

// String returns a human-readable representation of the direction.
func (d Direction) String() string {
	switch d {
	case Discharge:
		return "discharge"
	case Charge:
		return "charge"
	default:
		return "neutral"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "discharge":
		*d = Discharge
	case "charge":
		*d = Charge
	case "neutral", "":
		*d = Neutral
	default:
		return fmt.Errorf("unknown direction %q", b)
	}
	return nil
}

// Context carries the auxiliary state handed to the engine each cycle.
type Context struct {
	// PreviousAutoID is the device chosen as Auto in the previous cycle.
	PreviousAutoID string
	// Vehicle is the optional electric-vehicle state. Nil disables the
	// vehicle intent.
	Vehicle *model.VehicleState
	// Now is used to evaluate the tariff window of the vehicle intent.
	Now time.Time
}

// Result is the outcome of one allocation.
type Result struct {
	Decisions          []model.AllocationDecision `json:"decisions"`
	AutoID             string                     `json:"auto_id,omitempty"`
	Excluded           []string                   `json:"excluded,omitempty"`
	DemandWatts        float64                    `json:"demand_watts"`
	VehicleIntentWatts int                        `json:"vehicle_intent_watts"`
	Direction          Direction                  `json:"direction"`
}

// Decision returns the decision computed for the given device.
func (r Result) Decision(id string) (model.AllocationDecision, bool) {
	for _, d := range r.Decisions {
		if d.DeviceID == id {
			return d, true
		}
	}
	return model.AllocationDecision{}, false
}

// Engine computes per-cycle allocations. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an engine using it.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("allocation config: %w", err)
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the configuration used by the engine.
func (e *Engine) Config() Config { return e.cfg }

type candidate struct {
	status   model.DeviceStatus
	score    float64
	eligible bool
	// auto is set when the device may take the Auto role.
	auto bool
	// headroom is the power the device can still add to its current flow.
	headroom float64
}

// ComputeAllocation decides which device runs in Auto mode and which
// setpoint every other known device holds. Devices in Unknown mode are
// excluded from the result. The output only depends on the arguments.
func (e *Engine) ComputeAllocation(devices []model.DeviceStatus, netGridPower float64, hints Context) (Result, error) {
	if err := validateInput(devices, netGridPower); err != nil {
		return Result{}, err
	}
	known, excluded := partition(devices)
	res := Result{Decisions: []model.AllocationDecision{}, Excluded: excluded}
	if len(known) == 0 {
		return res, nil
	}

	intent := e.vehicleIntent(hints, netGridPower, known)
	demand := netGridPower + float64(intent) - totalFlow(known)
	dir := e.direction(demand)
	cands := e.candidates(known, dir)

	hint := continuityHint(hints, known)
	autoID := e.selectAuto(cands, demand, dir, hint)
	setpoints := e.apportion(cands, demand, dir, autoID, hint)

	for _, c := range cands {
		id := c.status.ID
		if id == autoID {
			res.Decisions = append(res.Decisions, model.AllocationDecision{DeviceID: id, TargetMode: model.ModeAuto})
			continue
		}
		res.Decisions = append(res.Decisions, model.AllocationDecision{
			DeviceID:      id,
			TargetMode:    model.ModeManual,
			SetpointWatts: model.ClampSetpoint(setpoints[id]),
		})
	}
	res.AutoID = autoID
	res.DemandWatts = demand
	res.VehicleIntentWatts = intent
	res.Direction = dir
	return res, nil
}

func validateInput(devices []model.DeviceStatus, net float64) error {
	if math.IsNaN(net) || math.IsInf(net, 0) {
		return fmt.Errorf("%w: net grid power is not finite", ErrMalformedInput)
	}
	seen := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		if d.ID == "" {
			return fmt.Errorf("%w: empty device id", ErrMalformedInput)
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("%w: duplicate device id %q", ErrMalformedInput, d.ID)
		}
		seen[d.ID] = struct{}{}
		if !d.Known() {
			continue
		}
		if err := d.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
	}
	return nil
}

// partition splits devices into known ones, sorted by id, and the ids of the
// excluded ones.
func partition(devices []model.DeviceStatus) ([]model.DeviceStatus, []string) {
	known := make([]model.DeviceStatus, 0, len(devices))
	var excluded []string
	for _, d := range devices {
		if d.Known() {
			known = append(known, d)
		} else {
			excluded = append(excluded, d.ID)
		}
	}
	sort.Slice(known, func(i, j int) bool { return known[i].ID < known[j].ID })
	sort.Strings(excluded)
	return known, excluded
}

func totalFlow(devices []model.DeviceStatus) float64 {
	flows := make([]float64, len(devices))
	for i, d := range devices {
		flows[i] = d.EffectivePower
	}
	return floats.Sum(flows)
}

func (e *Engine) direction(demand float64) Direction {
	switch {
	case demand > e.cfg.DeadbandWatts:
		return Discharge
	case demand < -e.cfg.DeadbandWatts:
		return Charge
	default:
		return Neutral
	}
}

// candidates scores every known device for the given direction. The score is
// the state-of-charge headroom in that direction weighted by efficiency.
func (e *Engine) candidates(known []model.DeviceStatus, dir Direction) []candidate {
	list := make([]candidate, 0, len(known))
	for _, d := range known {
		c := candidate{status: d, headroom: math.Max(0, e.cfg.DeviceMaxWatts-math.Abs(d.EffectivePower))}
		switch dir {
		case Discharge:
			c.eligible = d.ChargeLevel > e.cfg.MinDischargeSoC
			c.auto = c.eligible
			c.score = (d.ChargeLevel - e.cfg.MinDischargeSoC) * d.EfficiencyFactor()
		case Charge:
			c.eligible = d.ChargeLevel < e.cfg.MaxChargeSoC
			c.auto = d.ChargeLevel < e.cfg.AutoChargeSoC
			c.score = (e.cfg.MaxChargeSoC - d.ChargeLevel) * d.EfficiencyFactor()
		default:
			c.eligible = true
			c.auto = true
		}
		if !c.eligible || c.score < 0 {
			c.score = 0
		}
		list = append(list, c)
	}
	return list
}

// continuityHint returns the device that should keep the Auto role when it is
// still a good fit. Without an explicit hint the lowest id reporting Auto is
// used.
func continuityHint(hints Context, known []model.DeviceStatus) string {
	if hints.PreviousAutoID != "" {
		return hints.PreviousAutoID
	}
	for _, d := range known {
		if d.Mode == model.ModeAuto {
			return d.ID
		}
	}
	return ""
}

func (e *Engine) selectAuto(cands []candidate, demand float64, dir Direction, hint string) string {
	if dir == Neutral {
		for _, c := range cands {
			if c.status.ID == hint {
				return hint
			}
		}
		return medianByCharge(cands)
	}

	var eligible, auto []candidate
	for _, c := range cands {
		if c.eligible {
			eligible = append(eligible, c)
		}
		if c.eligible && c.auto {
			auto = append(auto, c)
		}
	}
	if len(auto) == 0 {
		return ""
	}
	// A saturated fleet runs every eligible device at full share in Manual.
	if math.Abs(demand) > float64(len(eligible))*e.cfg.DeviceMaxWatts {
		return ""
	}

	best := auto[0]
	for _, c := range auto[1:] {
		if c.score > best.score || (c.score == best.score && c.headroom > best.headroom) {
			best = c
		}
	}
	for _, c := range auto {
		if c.status.ID == hint && best.score-c.score <= e.cfg.RetainMargin {
			return hint
		}
	}
	return best.status.ID
}

// soloLimit is the demand the Auto device absorbs without Manual help. It
// grows with the larger power headroom of the Auto device and the previous
// one, which is still settling towards its new role.
func (e *Engine) soloLimit(cands []candidate, autoID, hint string) float64 {
	var headroom float64
	for _, c := range cands {
		if c.status.ID == autoID || c.status.ID == hint {
			headroom = math.Max(headroom, c.headroom)
		}
	}
	return e.cfg.SoloThresholdWatts + headroom/2
}

func medianByCharge(cands []candidate) string {
	sorted := append([]candidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].status.ChargeLevel != sorted[j].status.ChargeLevel {
			return sorted[i].status.ChargeLevel < sorted[j].status.ChargeLevel
		}
		return sorted[i].status.ID < sorted[j].status.ID
	})
	return sorted[len(sorted)/2].status.ID
}

// apportion computes the manual setpoints, keyed by device id. The demand is
// split across eligible devices proportionally to their score; the Auto
// device's share is left to its own regulation.
func (e *Engine) apportion(cands []candidate, demand float64, dir Direction, autoID, hint string) map[string]int {
	setpoints := make(map[string]int, len(cands))
	if dir == Neutral {
		return setpoints
	}
	if autoID != "" && math.Abs(demand) <= e.soloLimit(cands, autoID, hint) {
		return setpoints
	}

	var (
		eligible []candidate
		weights  []float64
	)
	for _, c := range cands {
		if c.eligible {
			eligible = append(eligible, c)
			weights = append(weights, c.score)
		}
	}
	if len(eligible) == 0 {
		return setpoints
	}
	total := floats.Sum(weights)
	if total <= 0 {
		for i := range weights {
			weights[i] = 1
		}
		total = float64(len(weights))
	}

	for i, c := range eligible {
		if c.status.ID == autoID {
			continue
		}
		share := demand * weights[i] / total
		sp := math.Round(-share)
		if math.Abs(sp) > e.cfg.DeviceMaxWatts {
			sp = math.Copysign(e.cfg.DeviceMaxWatts, sp)
		}
		setpoints[c.status.ID] = e.enforceBoundaries(c.status, int(sp))
	}
	return setpoints
}

// enforceBoundaries drops setpoints that are too small to matter or that would
// push a device beyond its state-of-charge limits.
func (e *Engine) enforceBoundaries(d model.DeviceStatus, sp int) int {
	if absInt(sp) < e.cfg.MinSetpointWatts {
		return 0
	}
	if sp > 0 && d.ChargeLevel >= e.cfg.MaxChargeSoC {
		return 0
	}
	if sp < 0 && d.ChargeLevel <= e.cfg.MinDischargeSoC {
		return 0
	}
	return model.ClampSetpoint(sp)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
