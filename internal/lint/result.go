package lint

type Status string

const (
	StatusPass  Status = "PASS"
	StatusFail  Status = "FAIL"
	StatusError Status = "ERROR"
)

type Result struct {
	CheckID string `json:"check_id"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

func Pass(checkID, message string) Result {
	return Result{CheckID: checkID, Status: StatusPass, Message: message}
}

func Fail(checkID, message string) Result {
	return Result{CheckID: checkID, Status: StatusFail, Message: message}
}

func Error(checkID, message string) Result {
	return Result{CheckID: checkID, Status: StatusError, Message: message}
}
