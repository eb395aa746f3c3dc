package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ProgramError is a declared error returned by the deployed report program.
// Callers receive these by name and code rather than as a generic ledger
// failure.
type ProgramError struct {
	Code uint32
	Name string
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("ledger: program error %s (%d)", e.Name, e.Code)
}

// Error codes declared by the deployed program.
const (
	CodeUnauthorized      uint32 = 6000
	CodeInvalidReportID   uint32 = 6001
	CodeNotShareNFT       uint32 = 6002
	CodeShareNFTNotFound  uint32 = 6003
	CodeOverflow          uint32 = 6004
	CodeOrgNameTooLong    uint32 = 6005
	CodeReportNameTooLong uint32 = 6006
)

var programErrorNames = map[uint32]string{
	CodeUnauthorized:      "Unauthorized",
	CodeInvalidReportID:   "InvalidReportId",
	CodeNotShareNFT:       "NotShareNFT",
	CodeShareNFTNotFound:  "ShareNFTNotFound",
	CodeOverflow:          "Overflow",
	CodeOrgNameTooLong:    "OrgNameTooLong",
	CodeReportNameTooLong: "ReportNameTooLong",
}

// newProgramError builds a ProgramError for a custom error code. Codes
// outside the declared table keep their numeric identity.
func newProgramError(code uint32) *ProgramError {
	name, ok := programErrorNames[code]
	if !ok {
		name = "Custom"
	}
	return &ProgramError{Code: code, Name: name}
}

var (
	hexCustomErr  = regexp.MustCompile(`custom program error: 0x([0-9a-fA-F]+)`)
	jsonCustomErr = regexp.MustCompile(`"Custom"\s*:\s*(\d+)`)
)

// programErrorFromError inspects an RPC-layer error for a custom program
// error code. The code surfaces either as a "custom program error: 0x..."
// log fragment or as an {"InstructionError":[i,{"Custom":n}]} structure.
func programErrorFromError(err error) (*ProgramError, bool) {
	if err == nil {
		return nil, false
	}
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe, true
	}
	return programErrorFromString(err.Error())
}

// programErrorFromStatus inspects the Err value of a transaction status.
func programErrorFromStatus(txErr interface{}) (*ProgramError, bool) {
	if txErr == nil {
		return nil, false
	}
	raw, err := json.Marshal(txErr)
	if err != nil {
		return nil, false
	}
	return programErrorFromString(string(raw))
}

func programErrorFromString(s string) (*ProgramError, bool) {
	if m := hexCustomErr.FindStringSubmatch(s); m != nil {
		if code, err := strconv.ParseUint(m[1], 16, 32); err == nil {
			return newProgramError(uint32(code)), true
		}
	}
	if m := jsonCustomErr.FindStringSubmatch(s); m != nil {
		if code, err := strconv.ParseUint(m[1], 10, 32); err == nil {
			return newProgramError(uint32(code)), true
		}
	}
	return nil, false
}
