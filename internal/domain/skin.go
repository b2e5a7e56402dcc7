package domain

// SkinDefinition is one catalog entry, loaded from the skin config file.
// UnboxWeight is only meaningful when CanUnbox is set.
type SkinDefinition struct {
	Name        string  `json:"name"`
	Visuals     string  `json:"visuals"`
	CanUnbox    bool    `json:"canUnbox"`
	UnboxWeight float64 `json:"unboxWeight"`
}

// UserSkinState tracks a player's owned skins and the one currently equipped.
// Inventory only ever grows; Selected is always "default" or a member of it
// (entitlement skins excepted, which are equip-able without being persisted).
type UserSkinState struct {
	Name      string   `json:"name"`
	TwitchID  string   `json:"twitchid,omitempty"`
	Selected  string   `json:"skin"`
	Inventory []string `json:"inventory"`
}

// Owns reports whether the skin is in the persisted inventory.
// DefaultSkin is implicitly owned by everyone.
func (u UserSkinState) Owns(skin string) bool {
	if skin == DefaultSkin {
		return true
	}
	for _, s := range u.Inventory {
		if s == skin {
			return true
		}
	}
	return false
}

// UnboxResult describes the outcome of a weighted draw. Message is the chat
// and reward text; AnimMessage is the overlay animation caption, which uses a
// different phrasing for duplicate draws.
type UnboxResult struct {
	Player      string  `json:"name"`
	Skin        string  `json:"skin"`
	Odds        float64 `json:"odds"`
	Duplicate   bool    `json:"duplicate"`
	Message     string  `json:"message"`
	AnimMessage string  `json:"-"`
}
