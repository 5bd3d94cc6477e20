package models

// Tier уровень платного тарифа пользователя.
type Tier string

// Допустимые уровни тарифа. Пустая строка трактуется как TierNone.
const (
	TierNone     Tier = "none"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// Paid сообщает, относится ли уровень к платным.
func (t Tier) Paid() bool {
	switch t {
	case TierSilver, TierGold, TierPlatinum:
		return true
	default:
		return false
	}
}

// Plan описывает ограничения и стоимость тарифа.
type Plan struct {
	Tier          Tier   `json:"tier"`
	Label         string `json:"label"`
	PriceKsh      int64  `json:"priceKsh"`
	SurveysPerDay int    `json:"surveysPerDay"`
	MinWithdrawal int64  `json:"minWithdrawal"`
}

var plans = map[Tier]Plan{
	TierNone:     {Tier: TierNone, Label: "Free Account", PriceKsh: 0, SurveysPerDay: 1, MinWithdrawal: 4500},
	TierSilver:   {Tier: TierSilver, Label: "Silver Account", PriceKsh: 200, SurveysPerDay: 5, MinWithdrawal: 3000},
	TierGold:     {Tier: TierGold, Label: "Gold Account", PriceKsh: 400, SurveysPerDay: 10, MinWithdrawal: 2500},
	TierPlatinum: {Tier: TierPlatinum, Label: "Platinum Account", PriceKsh: 800, SurveysPerDay: 20, MinWithdrawal: 2000},
}

// PlanFor возвращает тариф для уровня. Неизвестный уровень получает бесплатный тариф.
func PlanFor(t Tier) Plan {
	if p, ok := plans[t]; ok {
		return p
	}
	return plans[TierNone]
}

// Plans возвращает все тарифы в порядке возрастания цены.
func Plans() []Plan {
	return []Plan{plans[TierNone], plans[TierSilver], plans[TierGold], plans[TierPlatinum]}
}
