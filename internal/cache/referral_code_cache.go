package cache

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	defaultReferralCodeTTL  = 30 * time.Minute
	defaultReferralCodeSize = 50_000
)

// ReferralCodeCache maps referral codes to their owning account. Codes never
// change owner and accounts are never deleted, so entries cannot go stale.
type ReferralCodeCache interface {
	GetOwner(code string) (snowflake.ID, bool)
	SetOwner(code string, accountID snowflake.ID)
}

type referralCodeCache struct {
	owners Cache[string, snowflake.ID]
	ttl    time.Duration
}

func NewReferralCodeCache() ReferralCodeCache {
	return &referralCodeCache{
		owners: NewTTLCache[string, snowflake.ID](defaultReferralCodeSize),
		ttl:    defaultReferralCodeTTL,
	}
}

func (c *referralCodeCache) GetOwner(code string) (snowflake.ID, bool) {
	return c.owners.Get(cacheKey(code))
}

func (c *referralCodeCache) SetOwner(code string, accountID snowflake.ID) {
	if accountID == 0 {
		return
	}
	c.owners.Set(cacheKey(code), accountID, c.ttl)
}

func cacheKey(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
