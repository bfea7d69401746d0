package conversation

import (
	"fmt"
	"strings"
)

// ErrorPrefix 是所有错误回复的前缀.
const ErrorPrefix = "[Error]:"

// Outcome 是一次 Chat 调用的结果分类.
type Outcome string

const (
	OutcomeOK                Outcome = "ok"
	OutcomeResourceExhausted Outcome = "resource_exhausted"
	OutcomeBackendFailure    Outcome = "backend_failure"
	OutcomeMalformedResult   Outcome = "malformed_result"
	OutcomeExtractionFailure Outcome = "extraction_failure"
)

const (
	replyResourceExhausted = ErrorPrefix + " CUDA out of memory. Please try again."
	replyMalformedResult   = ErrorPrefix + " Unexpected results format."
	replyExtraction        = ErrorPrefix + " Failed to extract response content."
)

func replyBackendFailure(err error) string {
	return fmt.Sprintf("%s chat_completion failed: %v", ErrorPrefix, err)
}

// IsErrorReply 报告 Chat 的返回值是否是错误回复.
func IsErrorReply(reply string) bool {
	return strings.HasPrefix(reply, ErrorPrefix)
}
