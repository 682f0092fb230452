package domain

// Award labels handed out with promo codes.
const (
	AwardOneHour     = "1 hour"
	AwardFourHours   = "4 hours"
	AwardSixHours    = "6 hours"
	AwardEnergyDrink = "energy drink"
)

// WeightedAward is one outcome of the award distribution.
type WeightedAward struct {
	Label  string
	Weight int
}

// DefaultAwards is the award distribution: 40/30/20/10 percent.
var DefaultAwards = []WeightedAward{
	{Label: AwardOneHour, Weight: 40},
	{Label: AwardFourHours, Weight: 30},
	{Label: AwardSixHours, Weight: 20},
	{Label: AwardEnergyDrink, Weight: 10},
}
