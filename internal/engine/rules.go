package engine

type MergePolicy string

const (
	// MergeFields overwrites present scalars, upserts bets by id and merges data keys.
	MergeFields MergePolicy = "merge"
	// ReplaceKeys replaces every present top-level key wholesale.
	ReplaceKeys MergePolicy = "replace"
)

type Rules struct {
	// MaxActive of 0 means unlimited.
	MaxActive int
	// HistoryWindow is the retention window; history is kept at multiples of it.
	HistoryWindow int
	Merge         MergePolicy
	RetiredCap    int
}

const defaultRetiredCap = 64

var GameRules = map[Game]Rules{
	GameCoinflip:   {MaxActive: 0, HistoryWindow: 6, Merge: MergeFields, RetiredCap: defaultRetiredCap},
	GameCrash:      {MaxActive: 1, HistoryWindow: 10, Merge: ReplaceKeys, RetiredCap: defaultRetiredCap},
	GameJackpot:    {MaxActive: 1, HistoryWindow: 6, Merge: MergeFields, RetiredCap: defaultRetiredCap},
	GamePlinko:     {MaxActive: 0, HistoryWindow: 10, Merge: MergeFields, RetiredCap: defaultRetiredCap},
	GameDreamTower: {MaxActive: 0, HistoryWindow: 10, Merge: MergeFields, RetiredCap: defaultRetiredCap},
}

func DefaultRules(g Game) Rules {
	if r, ok := GameRules[g]; ok {
		return r
	}
	return Rules{HistoryWindow: 10, Merge: MergeFields, RetiredCap: defaultRetiredCap}
}

func ParseGame(s string) (Game, bool) {
	g := Game(s)
	_, ok := GameRules[g]
	return g, ok
}
