package log

// Common field names for structured logging
const (
	FieldComponent = "component"
	FieldError     = "error"
	FieldUserID    = "user_id"
	FieldExpenseID = "recurring_expense_id"
	FieldMonth     = "month"
	FieldBatchID   = "batch_id"
	FieldAmount    = "amount"
	FieldCurrency  = "currency"
	FieldGenerated = "generated"
	FieldLinked    = "linked"
	FieldDuration  = "duration_ms"
)

// Components defines standard component names
const (
	ComponentApp          = "app"
	ComponentStorage      = "storage"
	ComponentAMQP         = "amqp"
	ComponentMaterializer = "materializer"
	ComponentMatcher      = "matcher"
	ComponentImport       = "import"
	ComponentExport       = "export"
)
