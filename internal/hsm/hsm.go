// Package hsm classifies perception observations into a hierarchical game
// state and enforces the legal-transition table between states.
package hsm

import (
	"fmt"
	"sync"
)

// Category is one of the eight top-level state roots.
type Category uint8

const (
	CategoryBoot Category = iota
	CategoryTitle
	CategoryMenu
	CategoryDialog
	CategoryOverworld
	CategoryBattle
	CategoryEmergency
	CategoryTransition
	numCategories
)

func (c Category) String() string {
	names := [...]string{"BOOT", "TITLE", "MENU", "DIALOG", "OVERWORLD", "BATTLE", "EMERGENCY", "TRANSITION"}
	if int(c) < len(names) {
		return names[c]
	}
	return "UNKNOWN"
}

// State is a dense leaf-state index. Stable string IDs ("BATTLE.WILD_FIGHT")
// are used for logging and persistence; the dense index is used for O(1)
// transition-table lookups.
type State uint16

// leafNames enumerates every leaf state grouped by category. The table is
// the single source of truth for both State.String() and the legal
// transition graph — adding a state here is the only thing required to
// register it.
var leafNames = map[Category][]string{
	CategoryBoot: {
		"ROM_CHECK", "LOGO", "CARTRIDGE_HEADER", "SRAM_VERIFY", "COPYRIGHT_SCREEN",
	},
	CategoryTitle: {
		"TITLE_SCREEN", "PRESS_START", "NEW_GAME_PROMPT", "CONTINUE_PROMPT",
		"NAME_ENTRY", "INTRO_CUTSCENE", "GENDER_SELECT",
	},
	CategoryMenu: {
		"MAIN_MENU", "PARTY_MENU", "BAG_MENU", "ITEM_SUBMENU", "POKEMON_SUBMENU",
		"MOVE_SUBMENU", "SAVE_MENU", "OPTIONS_MENU", "PC_MENU", "PC_BOX_MENU",
		"SHOP_BUY_MENU", "SHOP_SELL_MENU", "NAME_RATER_MENU",
	},
	CategoryDialog: {
		"NPC_DIALOG", "SIGN_DIALOG", "YES_NO_PROMPT", "MULTI_CHOICE_PROMPT",
		"ITEM_RECEIVED", "EVOLUTION_PROMPT", "NICKNAME_PROMPT", "TRADE_DIALOG",
		"GYM_LEADER_INTRO",
	},
	CategoryOverworld: {
		"WALKING", "RUNNING", "SURFING", "BIKING", "CUT_ANIMATION", "LEDGE_HOP",
		"WARP_PENDING", "FISHING", "ITEM_PICKUP", "TRAINER_SIGHT_LINE",
		"SCRIPTED_EVENT", "BADGE_AWARDED",
	},
	CategoryBattle: {
		"BATTLE_INTRO", "BATTLE_MENU_ROOT", "BATTLE_FIGHT_SELECT", "BATTLE_MOVE_SELECT",
		"BATTLE_ITEM_SELECT", "BATTLE_SWITCH_SELECT", "BATTLE_RUN_CONFIRM",
		"BATTLE_ANIMATION", "BATTLE_MESSAGE", "BATTLE_FAINT", "BATTLE_CATCH_ATTEMPT",
		"BATTLE_CATCH_ANIMATION", "BATTLE_EXP_GAIN", "BATTLE_LEVEL_UP", "BATTLE_VICTORY",
		"BATTLE_DEFEAT", "BATTLE_WHITEOUT",
	},
	CategoryEmergency: {
		"AMBIGUOUS_STATE", "FROZEN_FRAME", "SOFTLOCK_SUSPECTED", "CORRUPT_READ",
		"RECOVERY_IN_PROGRESS",
	},
	CategoryTransition: {
		"FADE_OUT", "FADE_IN", "MAP_LOAD", "BATTLE_ENTRY_SWIRL", "BATTLE_EXIT_FADE",
		"DOOR_TRANSITION",
	},
}

var (
	initOnce     sync.Once
	stateName    []string   // dense index -> "CATEGORY.LEAF"
	stateCat     []Category // dense index -> owning category
	nameToState  map[string]State
	catStates    map[Category][]State
)

func buildTables() {
	for cat := Category(0); cat < numCategories; cat++ {
		leaves := leafNames[cat]
		for _, leaf := range leaves {
			idx := State(len(stateName))
			full := cat.String() + "." + leaf
			stateName = append(stateName, full)
			stateCat = append(stateCat, cat)
			nameToState[full] = idx
			catStates[cat] = append(catStates[cat], idx)
		}
	}
}

func ensureInit() {
	initOnce.Do(func() {
		nameToState = make(map[string]State)
		catStates = make(map[Category][]State)
		buildTables()
	})
}

// String returns the stable "CATEGORY.LEAF" identifier for s.
func (s State) String() string {
	ensureInit()
	if int(s) < len(stateName) {
		return stateName[s]
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(s))
}

// Category returns the owning top-level category of s.
func (s State) Category() Category {
	ensureInit()
	if int(s) < len(stateCat) {
		return stateCat[s]
	}
	return CategoryEmergency
}

// Lookup resolves a stable state name to its dense index.
func Lookup(name string) (State, bool) {
	ensureInit()
	st, ok := nameToState[name]
	return st, ok
}

// StatesInCategory returns every leaf state under cat, in table order.
func StatesInCategory(cat Category) []State {
	ensureInit()
	return catStates[cat]
}

// NumStates returns the total number of registered leaf states (~70).
func NumStates() int {
	ensureInit()
	return len(stateName)
}

// StatePath is the classification result for one tick: an ordered sequence
// of nodes from root category to leaf state, depth bounded at 4
// (category, leaf, and up to two reserved sub-levels for future use).
type StatePath struct {
	Nodes []State
}

// Leaf returns the most specific node on the path.
func (p StatePath) Leaf() State {
	if len(p.Nodes) == 0 {
		return State(0)
	}
	return p.Nodes[len(p.Nodes)-1]
}

// Depth returns the number of nodes on the path.
func (p StatePath) Depth() int {
	return len(p.Nodes)
}

func pathOf(s State) StatePath {
	return StatePath{Nodes: []State{s}}
}
