package dynamo

import "github.com/comnecter/verifymail/internal/domain"

// DynamoDB attribute names used in key and condition expressions.
const (
	fieldEmail     = domain.FieldEmail
	fieldEmailSent = domain.FieldEmailSent
)
