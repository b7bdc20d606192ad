package message

import "time"

// Error severities
const (
	SeverityFailure = "failure"
	SeverityWarning = "warning"
)

// ErrorCode identifies an ebMS3/AS4 error on the wire
type ErrorCode struct {
	Code             string
	Severity         string
	ShortDescription string
	Category         string
}

// Predefined ebMS3/AS4 error codes
var (
	ErrorOther = ErrorCode{
		Code:             "EBMS:0004",
		Severity:         SeverityFailure,
		ShortDescription: "Other",
		Category:         "Content",
	}

	ErrorEmptyMessagePartition = ErrorCode{
		Code:             "EBMS:0006",
		Severity:         SeverityWarning,
		ShortDescription: "EmptyMessagePartitionChannel",
		Category:         "Communication",
	}

	ErrorFailedAuthentication = ErrorCode{
		Code:             "EBMS:0101",
		Severity:         SeverityFailure,
		ShortDescription: "FailedAuthentication",
		Category:         "Processing",
	}

	ErrorFailedDecryption = ErrorCode{
		Code:             "EBMS:0102",
		Severity:         SeverityFailure,
		ShortDescription: "FailedDecryption",
		Category:         "Processing",
	}

	ErrorPolicyNoncompliance = ErrorCode{
		Code:             "EBMS:0103",
		Severity:         SeverityFailure,
		ShortDescription: "PolicyNoncompliance",
		Category:         "Processing",
	}

	ErrorDysfunctionalReliability = ErrorCode{
		Code:             "EBMS:0201",
		Severity:         SeverityFailure,
		ShortDescription: "DysfunctionalReliability",
		Category:         "Communication",
	}

	ErrorDeliveryFailure = ErrorCode{
		Code:             "EBMS:0202",
		Severity:         SeverityFailure,
		ShortDescription: "DeliveryFailure",
		Category:         "Communication",
	}

	ErrorMissingReceipt = ErrorCode{
		Code:             "EBMS:0301",
		Severity:         SeverityFailure,
		ShortDescription: "MissingReceipt",
		Category:         "Communication",
	}

	ErrorInvalidReceipt = ErrorCode{
		Code:             "EBMS:0302",
		Severity:         SeverityFailure,
		ShortDescription: "InvalidReceipt",
		Category:         "Communication",
	}

	ErrorDecompressionFailure = ErrorCode{
		Code:             "EBMS:0303",
		Severity:         SeverityFailure,
		ShortDescription: "DecompressionFailure",
		Category:         "Communication",
	}
)

// NewErrorSignal builds an Error signal message referencing the message in
// error. The detail string ends up in ErrorDetail for diagnostics.
func NewErrorSignal(code ErrorCode, refToMessageID, detail string) *SignalMessage {
	return &SignalMessage{
		MessageInfo: &MessageInfo{
			MessageId:      GenerateMessageID(),
			RefToMessageId: refToMessageID,
			Timestamp:      time.Now().UTC(),
		},
		Error: &Error{
			ErrorCode:           code.Code,
			Severity:            code.Severity,
			ShortDescription:    code.ShortDescription,
			Category:            code.Category,
			ErrorDetail:         detail,
			RefToMessageInError: refToMessageID,
		},
	}
}

// NewReceiptSignal builds a Receipt signal acknowledging the given message.
// The innerXML, when non-empty, carries NonRepudiationInformation.
func NewReceiptSignal(refToMessageID string, innerXML []byte) *SignalMessage {
	return &SignalMessage{
		MessageInfo: &MessageInfo{
			MessageId:      GenerateMessageID(),
			RefToMessageId: refToMessageID,
			Timestamp:      time.Now().UTC(),
		},
		Receipt: &Receipt{Any: innerXML},
	}
}

// NewPullRequestSignal builds a PullRequest signal for the given channel.
func NewPullRequestSignal(mpc string) *SignalMessage {
	return &SignalMessage{
		MessageInfo: &MessageInfo{
			MessageId: GenerateMessageID(),
			Timestamp: time.Now().UTC(),
		},
		PullRequest: &PullRequest{Mpc: mpc},
	}
}

// NewErrorMessage wraps an Error signal in a standalone AS4 message.
func NewErrorMessage(code ErrorCode, refToMessageID, detail string) *AS4Message {
	m := NewAS4Message()
	m.AddSignalMessage(NewErrorSignal(code, refToMessageID, detail))
	return m
}
