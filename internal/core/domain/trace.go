package domain

// ActionTrace is one executed contract action with its decoded input.
type ActionTrace struct {
	Contract       Name
	Action         Name
	GlobalSequence uint64
	TransactionID  string
	Actor          Name // first authorizer, empty when the action had none
	Data           Record
}
