package world

import (
	"sort"

	"github.com/google/uuid"

	"digtick.dev/internal/protocol"
	"digtick.dev/internal/sim/tasks"
)

type Player struct {
	ID   tasks.ActorID
	Name string

	// Held is the item in the main hand, "" for an empty hand.
	Held       string
	Efficiency int
	Unbreaking int

	Haste   int
	Fatigue int

	Submerged bool
	Grounded  bool

	Inventory map[string]int
	// Wear counts durability used on the held tool stack.
	Wear map[string]int
	XP   int
}

func newPlayer(name string, starter map[string]int) *Player {
	if name == "" {
		name = "player"
	}
	p := &Player{
		ID:        uuid.New(),
		Name:      name,
		Grounded:  true,
		Inventory: map[string]int{},
		Wear:      map[string]int{},
	}
	for item, n := range starter {
		if n > 0 {
			p.Inventory[item] = n
		}
	}
	return p
}

func (p *Player) clone() Player {
	c := *p
	c.Inventory = make(map[string]int, len(p.Inventory))
	for k, v := range p.Inventory {
		c.Inventory[k] = v
	}
	c.Wear = make(map[string]int, len(p.Wear))
	for k, v := range p.Wear {
		c.Wear[k] = v
	}
	return c
}

func (p *Player) hold(item string, efficiency, unbreaking int) bool {
	if item != "" && p.Inventory[item] <= 0 {
		return false
	}
	p.Held = item
	if item == "" {
		efficiency, unbreaking = 0, 0
	}
	p.Efficiency = max(efficiency, 0)
	p.Unbreaking = max(unbreaking, 0)
	return true
}

func (p *Player) give(item string, n int) {
	if item == "" || n <= 0 {
		return
	}
	p.Inventory[item] += n
}

// breakHeld removes one of the held tool; the hand empties when none are left.
func (p *Player) breakHeld() {
	item := p.Held
	p.Inventory[item]--
	delete(p.Wear, item)
	if p.Inventory[item] <= 0 {
		delete(p.Inventory, item)
		p.Held = ""
		p.Efficiency = 0
		p.Unbreaking = 0
	}
}

func (w *World) sendInventory(p *Player) {
	items := make([]protocol.ItemStack, 0, len(p.Inventory))
	for item, n := range p.Inventory {
		st := protocol.ItemStack{Item: item, Count: n}
		if md := w.maxDurability(item); md > 0 {
			st.Durability = md - p.Wear[item]
		}
		items = append(items, st)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Item < items[j].Item })
	w.sendTo(p.ID, protocol.InventoryMsg{
		Type:            protocol.TypeInventory,
		ProtocolVersion: protocol.Version,
		Held:            p.Held,
		Items:           items,
	})
}

func (w *World) maxDurability(item string) int {
	if w.cats == nil {
		return 0
	}
	return w.cats.MaxDurability(item)
}
