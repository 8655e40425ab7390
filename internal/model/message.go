package model

// Operation is the verb of a client request
type Operation string

const (
	OperationGet    Operation = "GET"
	OperationPut    Operation = "PUT"
	OperationDelete Operation = "DELETE"
)

// Valid reports whether the operation is one the node serves
func (o Operation) Valid() bool {
	switch o {
	case OperationGet, OperationPut, OperationDelete:
		return true
	}
	return false
}

// ErrorStatus returns the error status reported for a failed operation
func (o Operation) ErrorStatus() StatusType {
	switch o {
	case OperationPut:
		return StatusPutError
	case OperationDelete:
		return StatusDeleteError
	default:
		return StatusGetError
	}
}

// StatusType is the outcome reported in a response
type StatusType string

const (
	StatusPutSuccess    StatusType = "PUT_SUCCESS"
	StatusPutUpdate     StatusType = "PUT_UPDATE"
	StatusPutError      StatusType = "PUT_ERROR"
	StatusGetSuccess    StatusType = "GET_SUCCESS"
	StatusGetError      StatusType = "GET_ERROR"
	StatusDeleteSuccess StatusType = "DELETE_SUCCESS"
	StatusDeleteError   StatusType = "DELETE_ERROR"
)

// IsError reports whether the status signals a failed request
func (s StatusType) IsError() bool {
	switch s {
	case StatusPutError, StatusGetError, StatusDeleteError:
		return true
	}
	return false
}
