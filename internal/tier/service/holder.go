package service

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/tier/domain"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const tiersKey = "tiers"

// fileDefinition mirrors one entry of tiers.yml. The discount is read as a
// string so values like 7.5 keep their exact decimal form.
type fileDefinition struct {
	Name               string `mapstructure:"name"`
	MinLifetimeEarned  int64  `mapstructure:"min_lifetime_earned"`
	DiscountPercentage string `mapstructure:"discount_percentage"`
}

// TableHolder serves the current tier table and swaps it atomically when
// tiers.yml changes. An invalid file never replaces a valid table.
type TableHolder struct {
	current atomic.Pointer[domain.Table]
	log     *zap.Logger
}

func NewTableHolder(cfg config.Config, log *zap.Logger) (*TableHolder, error) {
	holder := &TableHolder{log: log.Named("tier.config")}

	v := viper.New()
	v.SetConfigName("tiers")
	v.SetConfigType("yml")
	if dir := strings.TrimSpace(cfg.TierConfigDir); dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath("/etc/loyalty")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("%w: read tiers.yml: %v", domain.ErrConfiguration, err)
		}
		table, err := domain.NewTable(domain.DefaultDefinitions())
		if err != nil {
			return nil, err
		}
		holder.store(table, "defaults")
		return holder, nil
	}

	table, err := decodeTable(v)
	if err != nil {
		return nil, err
	}
	holder.store(table, v.ConfigFileUsed())

	v.OnConfigChange(func(e fsnotify.Event) {
		holder.reload(func() (domain.Table, error) { return decodeTable(v) }, e.Name)
	})
	v.WatchConfig()

	return holder, nil
}

// NewStaticHolder wraps an already validated table; used where no reload is
// wanted.
func NewStaticHolder(table domain.Table, log *zap.Logger) *TableHolder {
	holder := &TableHolder{log: log.Named("tier.config")}
	holder.store(table, "static")
	return holder
}

func (h *TableHolder) Get() domain.Table {
	return *h.current.Load()
}

func (h *TableHolder) reload(load func() (domain.Table, error), name string) {
	table, err := load()
	if err != nil {
		h.log.Error("invalid tier table ignored, keeping previous",
			zap.String("file", name),
			zap.Error(err),
		)
		return
	}
	h.store(table, name)
}

func (h *TableHolder) store(table domain.Table, source string) {
	h.current.Store(&table)
	h.log.Info("tier table loaded",
		zap.String("source", source),
		zap.Int("tiers", table.Len()),
	)
}

func decodeTable(v *viper.Viper) (domain.Table, error) {
	var raw []fileDefinition
	if err := v.UnmarshalKey(tiersKey, &raw); err != nil {
		return domain.Table{}, fmt.Errorf("%w: decode tiers: %v", domain.ErrConfiguration, err)
	}
	return toTable(raw)
}

func toTable(raw []fileDefinition) (domain.Table, error) {
	defs := make([]domain.Definition, 0, len(raw))
	for _, item := range raw {
		discount := decimal.Zero
		if s := strings.TrimSpace(item.DiscountPercentage); s != "" {
			d, err := decimal.NewFromString(s)
			if err != nil {
				return domain.Table{}, fmt.Errorf("%w: tier %q discount %q is not a number", domain.ErrConfiguration, item.Name, s)
			}
			discount = d
		}
		defs = append(defs, domain.Definition{
			Name:               item.Name,
			MinLifetimeEarned:  item.MinLifetimeEarned,
			DiscountPercentage: discount,
		})
	}
	return domain.NewTable(defs)
}
