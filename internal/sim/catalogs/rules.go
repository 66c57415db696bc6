package catalogs

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"digtick.dev/internal/sim/mining/breaktime"
)

type ruleKey struct {
	tool     string
	material string
}

type ruleCache struct {
	cache *lru.Cache[ruleKey, breaktime.Rule]
}

func newRuleCache(size int) (*ruleCache, error) {
	c, err := lru.New[ruleKey, breaktime.Rule](size)
	if err != nil {
		return nil, err
	}
	return &ruleCache{cache: c}, nil
}

// Rule implements breaktime.ToolRules. Unknown tools behave like the bare hand;
// unknown materials are neither effective nor appropriate.
func (c *Catalogs) Rule(tool, material string) breaktime.Rule {
	key := ruleKey{tool: tool, material: material}
	if c.rules != nil {
		if r, ok := c.rules.cache.Get(key); ok {
			return r
		}
	}
	r := c.computeRule(tool, material)
	if c.rules != nil {
		c.rules.cache.Add(key, r)
	}
	return r
}

// ToolKind is the kind of the held item, KindHand for anything that is not a tool.
func (c *Catalogs) ToolKind(tool string) string {
	d, ok := c.Tools.Defs[tool]
	if !ok || d.Kind == "" {
		return KindHand
	}
	return d.Kind
}

func (c *Catalogs) computeRule(tool, material string) breaktime.Rule {
	m, ok := c.Materials.Defs[material]
	if !ok {
		return breaktime.Rule{}
	}

	kind := c.ToolKind(tool)
	effective := false
	for _, k := range m.Tools {
		if k == kind {
			effective = true
			break
		}
	}

	r := breaktime.Rule{Effective: effective}
	if effective {
		r.BaseSpeed = c.toolSpeed(tool, kind, m)
	}

	switch {
	case m.MinHarvestLevel <= 0:
		r.Appropriate = true
	case effective:
		r.Appropriate = c.harvestLevel(tool) >= m.MinHarvestLevel
	}
	return r
}

func (c *Catalogs) toolSpeed(tool, kind string, m MaterialDef) float64 {
	if s, ok := m.SpeedOverrides[kind]; ok && s > 0 {
		return s
	}
	d := c.Tools.Defs[tool]
	if d.Speed > 0 {
		return d.Speed
	}
	if tier, ok := c.Tools.Tiers[d.Tier]; ok && tier.Speed > 0 {
		return tier.Speed
	}
	return 1
}

func (c *Catalogs) harvestLevel(tool string) int {
	d, ok := c.Tools.Defs[tool]
	if !ok {
		return 0
	}
	if d.HarvestLevel > 0 {
		return d.HarvestLevel
	}
	return c.Tools.Tiers[d.Tier].HarvestLevel
}
