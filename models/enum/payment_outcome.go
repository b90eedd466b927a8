package enum

// PaymentOutcome 付款閘道回報的結果
type PaymentOutcome string

const (
	PaymentOutcomeSuccess PaymentOutcome = "success"
	PaymentOutcomeCancel  PaymentOutcome = "cancel"
	PaymentOutcomeFailure PaymentOutcome = "failure"
)
