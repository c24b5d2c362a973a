package vesting

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// RateDenominator is the unit of Template.DailyRate.
	RateDenominator = 10_000_000
	// Day is the release granularity in seconds.
	Day = 86_400
	// DaysPerMonth converts cliff months into days.
	DaysPerMonth = 30
	// LinearTemplate releases proportionally over the schedule duration.
	LinearTemplate = "Linear"
)

var ErrUnknownTemplate = errors.New("vesting: unknown template")

// Template describes a release curve.
type Template struct {
	Name string
	// DailyRate is the share of the total released per day after the cliff,
	// over RateDenominator. Zero selects the linear curve.
	DailyRate   uint64
	CliffMonths uint64
}

// CliffDays returns the length of the cliff.
func (t Template) CliffDays() uint64 { return t.CliffMonths * DaysPerMonth }

var templates = map[string]Template{
	"Advisors":     {Name: "Advisors", DailyRate: 13698, CliffMonths: 12},
	"Marketing":    {Name: "Marketing", DailyRate: 48912, CliffMonths: 1},
	"Partnership":  {Name: "Partnership", DailyRate: 13679, CliffMonths: 6},
	"PreSeed":      {Name: "PreSeed", DailyRate: 13337, CliffMonths: 3},
	"PrivateSale":  {Name: "PrivateSale", DailyRate: 18915, CliffMonths: 1},
	"PublicSale":   {Name: "PublicSale", DailyRate: 54944, CliffMonths: 0},
	"SeedSale":     {Name: "SeedSale", DailyRate: 15547, CliffMonths: 2},
	"Team":         {Name: "Team", DailyRate: 13698, CliffMonths: 12},
	LinearTemplate: {Name: LinearTemplate},
}

// LookupTemplate returns the template registered under name.
func LookupTemplate(name string) (Template, error) {
	t, ok := templates[name]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	return t, nil
}

// TemplateNames lists the registered templates in lexical order.
func TemplateNames() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schedule binds a beneficiary to a template.
type Schedule struct {
	Beneficiary common.Address `json:"account"`
	Start       uint64         `json:"startTimestamp"`
	// Duration only bounds the linear template; rate templates run until the
	// total is exhausted.
	Duration uint64 `json:"duration"`
	Template string `json:"contractTemplate"`
}

// Vested returns how much of total is unlocked at now.
func (t Template) Vested(total *uint256.Int, start, duration uint64, now int64) *uint256.Int {
	if now < 0 || uint64(now) < start {
		return new(uint256.Int)
	}
	elapsed := uint64(now) - start
	if t.DailyRate == 0 {
		if duration == 0 || elapsed >= duration {
			return new(uint256.Int).Set(total)
		}
		out := new(uint256.Int).Mul(total, uint256.NewInt(elapsed))
		return out.Div(out, uint256.NewInt(duration))
	}
	days := elapsed / Day
	cliff := t.CliffDays()
	if days <= cliff {
		return new(uint256.Int)
	}
	daily := new(uint256.Int).Mul(total, uint256.NewInt(t.DailyRate))
	daily.Div(daily, uint256.NewInt(RateDenominator))
	if daily.IsZero() {
		return new(uint256.Int).Set(total)
	}
	vested, overflow := new(uint256.Int).MulOverflow(daily, uint256.NewInt(days-cliff))
	if overflow || vested.Gt(total) {
		return new(uint256.Int).Set(total)
	}
	return vested
}
