package math

// CommissionPeriod selects the epoch duration for performance-fee accrual.
type CommissionPeriod int32

const (
	PeriodMonth CommissionPeriod = iota
	PeriodQuarter
	PeriodYear
)

const microsPerDay = int64(24 * 60 * 60 * 1_000_000)

// Duration returns the epoch length in microseconds.
func (p CommissionPeriod) Duration() int64 {
	switch p {
	case PeriodMonth:
		return 30 * microsPerDay
	case PeriodQuarter:
		return 90 * microsPerDay
	case PeriodYear:
		return 360 * microsPerDay
	default:
		return 30 * microsPerDay
	}
}

func (p CommissionPeriod) String() string {
	switch p {
	case PeriodMonth:
		return "Month"
	case PeriodQuarter:
		return "Quarter"
	case PeriodYear:
		return "Year"
	default:
		return "Unknown"
	}
}

// CommissionEpoch returns the epoch number containing ts.
// Epochs are 1-based: the interval [init, init+duration) is epoch 1.
func CommissionEpoch(ts, initTs int64, period CommissionPeriod) int64 {
	if ts < initTs {
		return 1
	}
	return (ts-initTs)/period.Duration() + 1
}

// NextCommissionEpoch returns the epoch after the one containing ts. A fee
// becomes extractable from an investor only once the current epoch reaches
// their stored unlock epoch, so new investors are stamped with this value.
func NextCommissionEpoch(ts, initTs int64, period CommissionPeriod) int64 {
	return CommissionEpoch(ts, initTs, period) + 1
}
