package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// KindHand is the tool kind of an empty or non-tool hand.
	KindHand = "HAND"

	defaultRuleCacheSize = 4096
)

type Catalogs struct {
	Materials MaterialCatalog
	Tools     ToolCatalog

	rules *ruleCache
}

type MaterialCatalog struct {
	Defs   map[string]MaterialDef
	IDs    []string
	Digest string
}

type MaterialDef struct {
	ID string `json:"id"`
	// Hardness < 0 is unbreakable, 0 breaks instantly.
	Hardness float64 `json:"hardness"`
	// Tools lists the tool kinds that dig this material faster.
	Tools []string `json:"tools,omitempty"`
	// MinHarvestLevel is the tier needed to harvest; 0 means the hand is enough.
	MinHarvestLevel int    `json:"min_harvest_level"`
	DropsItem       string `json:"drops_item,omitempty"`
	// Exp is the experience granted when the material is harvested.
	Exp            int                `json:"exp,omitempty"`
	SpeedOverrides map[string]float64 `json:"speed_overrides,omitempty"`
}

type ToolCatalog struct {
	Tiers  map[string]TierDef
	Defs   map[string]ToolDef
	Digest string
}

type TierDef struct {
	ID           string  `json:"id"`
	HarvestLevel int     `json:"harvest_level"`
	Speed        float64 `json:"speed"`
}

type ToolDef struct {
	ID            string  `json:"id"`
	Kind          string  `json:"kind"`
	Tier          string  `json:"tier,omitempty"`
	Speed         float64 `json:"speed,omitempty"`
	HarvestLevel  int     `json:"harvest_level,omitempty"`
	MaxDurability int     `json:"max_durability,omitempty"`
}

type toolsFile struct {
	Tiers []TierDef `json:"tiers"`
	Tools []ToolDef `json:"tools"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	if err := loadMaterials(filepath.Join(configDir, "materials.json"), &c.Materials); err != nil {
		return nil, err
	}
	if err := loadTools(filepath.Join(configDir, "tools.json"), &c.Tools); err != nil {
		return nil, err
	}
	rules, err := newRuleCache(defaultRuleCacheSize)
	if err != nil {
		return nil, err
	}
	c.rules = rules
	return &c, nil
}

// Hardness returns the intrinsic hardness of a material.
func (c *Catalogs) Hardness(material string) (float64, bool) {
	d, ok := c.Materials.Defs[material]
	if !ok {
		return 0, false
	}
	return d.Hardness, true
}

// Drop is the item a harvested material yields, or "" for none.
func (c *Catalogs) Drop(material string) string {
	d, ok := c.Materials.Defs[material]
	if !ok {
		return ""
	}
	return d.DropsItem
}

func (c *Catalogs) Exp(material string) int {
	return c.Materials.Defs[material].Exp
}

// MaxDurability is 0 for items that do not wear out.
func (c *Catalogs) MaxDurability(item string) int {
	return c.Tools.Defs[item].MaxDurability
}

// IsTool reports whether item is a known tool.
func (c *Catalogs) IsTool(item string) bool {
	_, ok := c.Tools.Defs[item]
	return ok
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadMaterials(path string, out *MaterialCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := validateDocument(materialsSchema, raw); err != nil {
		return fmt.Errorf("materials.json: %w", err)
	}
	out.Digest = sha256Hex(raw)

	var defs []MaterialDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("materials.json: %w", err)
	}
	out.Defs = map[string]MaterialDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("materials.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("materials.json: duplicate id %s", d.ID)
		}
		for i, k := range d.Tools {
			d.Tools[i] = strings.ToUpper(k)
		}
		out.Defs[d.ID] = d
	}
	if _, ok := out.Defs["AIR"]; !ok {
		return fmt.Errorf("materials.json: missing AIR")
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.IDs = ids
	return nil
}

func loadTools(path string, out *ToolCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := validateDocument(toolsSchema, raw); err != nil {
		return fmt.Errorf("tools.json: %w", err)
	}
	out.Digest = sha256Hex(raw)

	var f toolsFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("tools.json: %w", err)
	}
	out.Tiers = map[string]TierDef{}
	for _, t := range f.Tiers {
		if t.ID == "" {
			return fmt.Errorf("tools.json: tier with empty id")
		}
		out.Tiers[t.ID] = t
	}
	out.Defs = map[string]ToolDef{}
	for _, d := range f.Tools {
		if d.ID == "" {
			return fmt.Errorf("tools.json: tool with empty id")
		}
		d.Kind = strings.ToUpper(d.Kind)
		if d.Tier != "" {
			if _, ok := out.Tiers[d.Tier]; !ok {
				return fmt.Errorf("tools.json: tool %s references unknown tier %s", d.ID, d.Tier)
			}
		}
		out.Defs[d.ID] = d
	}
	return nil
}
