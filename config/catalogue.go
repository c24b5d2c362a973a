package config

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"assetmech/native/asset"
	"assetmech/native/exchange"
	"assetmech/native/factory"
	"assetmech/native/staking"
	"assetmech/native/vesting"
)

// Duration accepts either Go duration strings ("5m") or whole seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	raw := strings.TrimSpace(node.Value)
	if secs, err := strconv.ParseUint(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, raw)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Seconds returns the duration in whole seconds.
func (d Duration) Seconds() uint64 { return uint64(time.Duration(d) / time.Second) }

// Catalogue is the operator maintained description of what settlementd
// serves: exchange payees, extra deployment templates, rule sets of staking
// instances and the randomness oracles.
type Catalogue struct {
	Exchange  ExchangeSpec   `yaml:"exchange"`
	Templates []TemplateSpec `yaml:"templates"`
	Staking   []StakingSpec  `yaml:"staking"`
	Vesting   []VestingSpec  `yaml:"vesting"`
	Oracles   []string       `yaml:"oracles"`
}

type ExchangeSpec struct {
	Name        string      `yaml:"name"`
	ReferralBps uint32      `yaml:"referralBps"`
	Payees      []PayeeSpec `yaml:"payees"`
}

type PayeeSpec struct {
	Account string `yaml:"account"`
	Shares  uint64 `yaml:"shares"`
}

type TemplateSpec struct {
	Kind    string `yaml:"kind"`
	Variant string `yaml:"variant"`
	Code    string `yaml:"code"`
}

// StakingSpec lists the rules applied to an already deployed staking instance.
type StakingSpec struct {
	Address  string     `yaml:"address"`
	MaxStake *uint64    `yaml:"maxStake"`
	Rules    []RuleSpec `yaml:"rules"`
}

type RuleSpec struct {
	ExternalID string       `yaml:"externalId"`
	Deposit    asset.Wire   `yaml:"deposit"`
	Reward     asset.Wire   `yaml:"reward"`
	Content    []asset.Wire `yaml:"content"`
	Period     Duration     `yaml:"period"`
	Penalty    uint64       `yaml:"penalty"`
	Recurrent  bool         `yaml:"recurrent"`
	Active     *bool        `yaml:"active"`
	Cap        uint64       `yaml:"cap"`
}

// VestingSpec describes a schedule created at startup when absent.
type VestingSpec struct {
	Address     string   `yaml:"address"`
	Beneficiary string   `yaml:"beneficiary"`
	Start       uint64   `yaml:"start"`
	Duration    Duration `yaml:"duration"`
	Template    string   `yaml:"template"`
}

// LoadCatalogue reads the YAML catalogue at path. A missing file yields an
// empty catalogue.
func LoadCatalogue(path string) (*Catalogue, error) {
	cat := &Catalogue{}
	if path == "" {
		return cat, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return cat, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open catalogue: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cat); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}
	if err := cat.validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

func (c *Catalogue) validate() error {
	if c.Exchange.ReferralBps > exchange.MaxReferralBps {
		return fmt.Errorf("catalogue: exchange.referralBps %d exceeds %d", c.Exchange.ReferralBps, exchange.MaxReferralBps)
	}
	if _, err := c.Payees(); err != nil {
		return err
	}
	if _, err := c.OracleAccounts(); err != nil {
		return err
	}
	if _, err := c.FactoryTemplates(); err != nil {
		return err
	}
	for i, s := range c.Staking {
		if !common.IsHexAddress(s.Address) {
			return fmt.Errorf("catalogue: staking[%d].address %q", i, s.Address)
		}
		if _, err := s.StakingRules(); err != nil {
			return fmt.Errorf("catalogue: staking[%d]: %w", i, err)
		}
	}
	for i, v := range c.Vesting {
		if _, _, err := v.Schedule(); err != nil {
			return fmt.Errorf("catalogue: vesting[%d]: %w", i, err)
		}
	}
	return nil
}

// Payees resolves the exchange payment splitter shares.
func (c *Catalogue) Payees() ([]exchange.Payee, error) {
	out := make([]exchange.Payee, 0, len(c.Exchange.Payees))
	for i, p := range c.Exchange.Payees {
		if !common.IsHexAddress(p.Account) || p.Shares == 0 {
			return nil, fmt.Errorf("catalogue: exchange.payees[%d] needs an account and positive shares", i)
		}
		out = append(out, exchange.Payee{Account: common.HexToAddress(p.Account), Shares: p.Shares})
	}
	return out, nil
}

// ExchangeConfig builds the exchange deployment for chainID.
func (c *Catalogue) ExchangeConfig(chainID uint64) (exchange.Config, error) {
	payees, err := c.Payees()
	if err != nil {
		return exchange.Config{}, err
	}
	return exchange.Config{
		Name:        c.Exchange.Name,
		ChainID:     new(big.Int).SetUint64(chainID),
		Payees:      payees,
		ReferralBps: c.Exchange.ReferralBps,
	}, nil
}

// OracleAccounts returns the accounts granted ORACLE_ROLE on the coordinator.
func (c *Catalogue) OracleAccounts() ([]common.Address, error) {
	out := make([]common.Address, 0, len(c.Oracles))
	for _, raw := range c.Oracles {
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("catalogue: oracle %q is not a hex address", raw)
		}
		out = append(out, common.HexToAddress(raw))
	}
	return out, nil
}

// FactoryTemplates resolves the extra deployment templates.
func (c *Catalogue) FactoryTemplates() ([]factory.Template, error) {
	out := make([]factory.Template, 0, len(c.Templates))
	for i, t := range c.Templates {
		kind, err := factory.ParseKind(t.Kind)
		if err != nil {
			return nil, fmt.Errorf("catalogue: templates[%d]: %w", i, err)
		}
		if t.Code == "" {
			return nil, fmt.Errorf("catalogue: templates[%d]: empty code", i)
		}
		if kind == factory.KindVesting {
			if _, err := vesting.LookupTemplate(t.Variant); err != nil {
				return nil, fmt.Errorf("catalogue: templates[%d]: %w", i, err)
			}
		}
		out = append(out, factory.Template{Kind: kind, Variant: t.Variant, Code: []byte(t.Code)})
	}
	return out, nil
}

// Instance returns the staking instance address.
func (s StakingSpec) Instance() common.Address { return common.HexToAddress(s.Address) }

// StakingRules converts the configured rules.
func (s StakingSpec) StakingRules() ([]staking.Rule, error) {
	out := make([]staking.Rule, 0, len(s.Rules))
	for i, r := range s.Rules {
		rule, err := r.Rule()
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

// Rule converts the catalogue entry into a staking rule and validates it.
func (r RuleSpec) Rule() (staking.Rule, error) {
	id, err := asset.ParseQuantity(r.ExternalID)
	if err != nil {
		return staking.Rule{}, fmt.Errorf("externalId: %w", err)
	}
	deposit, err := r.Deposit.Asset()
	if err != nil {
		return staking.Rule{}, fmt.Errorf("deposit: %w", err)
	}
	reward, err := r.Reward.Asset()
	if err != nil {
		return staking.Rule{}, fmt.Errorf("reward: %w", err)
	}
	content := make([]asset.Asset, 0, len(r.Content))
	for i, w := range r.Content {
		a, err := w.Asset()
		if err != nil {
			return staking.Rule{}, fmt.Errorf("content[%d]: %w", i, err)
		}
		content = append(content, a)
	}
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	rule := staking.Rule{
		ExternalID: *id,
		Deposit:    deposit,
		Reward:     reward,
		Content:    content,
		Period:     r.Period.Seconds(),
		Penalty:    r.Penalty,
		Recurrent:  r.Recurrent,
		Active:     active,
	}
	if err := rule.Validate(); err != nil {
		return staking.Rule{}, err
	}
	return rule, nil
}

// Schedule converts the catalogue entry into a vesting schedule keyed by its address.
func (v VestingSpec) Schedule() (common.Address, vesting.Schedule, error) {
	if !common.IsHexAddress(v.Address) || !common.IsHexAddress(v.Beneficiary) {
		return common.Address{}, vesting.Schedule{}, errors.New("address and beneficiary must be hex addresses")
	}
	if _, err := vesting.LookupTemplate(v.Template); err != nil {
		return common.Address{}, vesting.Schedule{}, err
	}
	return common.HexToAddress(v.Address), vesting.Schedule{
		Beneficiary: common.HexToAddress(v.Beneficiary),
		Start:       v.Start,
		Duration:    v.Duration.Seconds(),
		Template:    v.Template,
	}, nil
}
