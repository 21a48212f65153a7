package methodscript

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/KevinKickass/OpenLabCore/internal/faults"
)

// ErrorKind enumerates the codes a device may report on a "!" line.
type ErrorKind int

const (
	ErrUnknown ErrorKind = iota
	ErrStatusErr
	ErrInvalidVT
	ErrUnknownCmd
	ErrRegUnknown
	ErrRegReadOnly
	ErrWrongCommMode
	ErrBadArg
	ErrCmdBuffOverflow
	ErrCmdTimeout
	ErrRefArgOutOfRange
	ErrOutOfVarMem
	ErrNoScriptLoaded
	ErrInvalidTime
	ErrOverflow
	ErrInvalidPotential
	ErrInvalidBitval
	ErrInvalidFrequency
	ErrInvalidAmplitude
	ErrNVMAddrOutOfRange
	ErrOCPCellOnNotAllowed
	ErrInvalidCRC
	ErrFlashError
	ErrInvalidFlashAddr
	ErrSettingsCorrupt
	ErrAuthErr
	ErrCalibrationInvalid
	ErrNotSupported
	ErrNegativeEStep
	ErrNegativeEPulse
	ErrNegativeEAmp
	ErrTechNotLicenced
	ErrMultipleHS
	ErrUnknownPGSMode
	ErrChannelNotPolyWE
	ErrInvalidForPGStatMode
	ErrTooManyExtraVars
	ErrUnknownPadMode
	ErrFileErr
	ErrFileExists
	ErrScriptSyntax
	ErrScriptUnknownCmd
	ErrScriptBadArg
	ErrScriptArgOutOfRange
	ErrScriptUnexpectedChar
	ErrScriptOutOfCmdMem
	ErrScriptUnknownVarType
	ErrScriptVarUndefined
	ErrScriptInvalidOptArg
	ErrScriptInvalidVersion
	ErrFatal
)

type errorInfo struct {
	kind  ErrorKind
	name  string
	descr string
}

const notApplicable = "Not applicable for MethodSCRIPT"

var errorTable = map[uint16]errorInfo{
	0x0001: {ErrStatusErr, "ERR", "An unspecified error has occurred"},
	0x0002: {ErrInvalidVT, "INVALID_VT", "An invalid Value Type has been used"},
	0x0003: {ErrUnknownCmd, "UNKNOWN_CMD", "The command was not recognized"},
	0x0004: {ErrRegUnknown, "REG_UNKNOWN", notApplicable},
	0x0005: {ErrRegReadOnly, "REG_READ_ONLY", notApplicable},
	0x0006: {ErrWrongCommMode, "WRONG_COMM_MODE", notApplicable},
	0x0007: {ErrBadArg, "BAD_ARG", "An argument has an unexpected value"},
	0x0008: {ErrCmdBuffOverflow, "CMD_BUFF_OVERFLOW", "Command exceeds maximum length"},
	0x0009: {ErrCmdTimeout, "CMD_TIMEOUT", "The command has timed out"},
	0x000A: {ErrRefArgOutOfRange, "REF_ARG_OUT_OF_RANGE", "A var has a wrong identifier"},
	0x000B: {ErrOutOfVarMem, "OUT_OF_VAR_MEM", "Cannot reserve the memory needed for this var"},
	0x000C: {ErrNoScriptLoaded, "NO_SCRIPT_LOADED", "Cannot run a script without loading one first"},
	0x000D: {ErrInvalidTime, "INVALID_TIME", "The given (or calculated) time value is invalid for this command"},
	0x000E: {ErrOverflow, "OVERFLOW", "An overflow has occurred while averaging a measured value"},
	0x000F: {ErrInvalidPotential, "INVALID_POTENTIAL", "The given potential is not valid"},
	0x0010: {ErrInvalidBitval, "INVALID_BITVAL", "A variable has become either NaN or inf"},
	0x0011: {ErrInvalidFrequency, "INVALID_FREQUENCY", "The input frequency is invalid"},
	0x0012: {ErrInvalidAmplitude, "INVALID_AMPLITUDE", "The input amplitude is invalid"},
	0x0013: {ErrNVMAddrOutOfRange, "NVM_ADDR_OUT_OF_RANGE", notApplicable},
	0x0014: {ErrOCPCellOnNotAllowed, "OCP_CELL_ON_NOT_ALLOWED", "Cannot perform OCP measurement when cell on"},
	0x0015: {ErrInvalidCRC, "INVALID_CRC", notApplicable},
	0x0016: {ErrFlashError, "FLASH_ERROR", "An error has occurred while reading / writing flash"},
	0x0017: {ErrInvalidFlashAddr, "INVALID_FLASH_ADDR", "An error has occurred while reading / writing flash"},
	0x0018: {ErrSettingsCorrupt, "SETTINGS_CORRUPT", "The device settings have been corrupted"},
	0x0019: {ErrAuthErr, "AUTH_ERR", notApplicable},
	0x001A: {ErrCalibrationInvalid, "CALIBRATION_INVALID", notApplicable},
	0x001B: {ErrNotSupported, "NOT_SUPPORTED", "This command or part of this command is not supported by the current device"},
	0x001C: {ErrNegativeEStep, "NEGATIVE_ESTEP", "Step Potential cannot be negative for this technique"},
	0x001D: {ErrNegativeEPulse, "NEGATIVE_EPULSE", "Pulse Potential cannot be negative for this technique"},
	0x001E: {ErrNegativeEAmp, "NEGATIVE_EAMP", "Amplitude cannot be negative for this technique"},
	0x001F: {ErrTechNotLicenced, "TECH_NOT_LICENCED", "Product is not licenced for this technique"},
	0x0020: {ErrMultipleHS, "MULTIPLE_HS", "Cannot have more than one high speed and/or max range mode enabled (EmStat Pico)"},
	0x0021: {ErrUnknownPGSMode, "UNKNOWN_PGS_MODE", "The specified PGStat mode is not supported"},
	0x0022: {ErrChannelNotPolyWE, "CHANNEL_NOT_POLY_WE", "Channel set to be used as Poly WE is not configured as Poly WE"},
	0x0023: {ErrInvalidForPGStatMode, "INVALID_FOR_PGSTAT_MODE", "Command is invalid for the selected PGStat mode"},
	0x0024: {ErrTooManyExtraVars, "TOO_MANY_EXTRA_VARS", "The maximum number of vars to measure has been exceeded"},
	0x0025: {ErrUnknownPadMode, "UNKNOWN_PAD_MODE", "The specified PAD mode is unknown"},
	0x0026: {ErrFileErr, "FILE_ERR", "An error has occurred during a file operation"},
	0x0027: {ErrFileExists, "FILE_EXISTS", "Cannot open file, a file with this name already exists"},
	0x4000: {ErrScriptSyntax, "SCRIPT_SYNTAX_ERR", "The script contains a syntax error"},
	0x4001: {ErrScriptUnknownCmd, "SCRIPT_UNKNOWN_CMD", "The script command is unknown"},
	0x4002: {ErrScriptBadArg, "SCRIPT_BAD_ARG", "An argument was invalid for this command"},
	0x4003: {ErrScriptArgOutOfRange, "SCRIPT_ARG_OUT_OF_RANGE", "An argument was out of range"},
	0x4004: {ErrScriptUnexpectedChar, "SCRIPT_UNEXPECTED_CHAR", "An unexpected character was encountered"},
	0x4005: {ErrScriptOutOfCmdMem, "SCRIPT_OUT_OF_CMD_MEM", "The script is too large for the internal script memory"},
	0x4006: {ErrScriptUnknownVarType, "SCRIPT_UNKNOWN_VAR_TYPE", "The variable type specified is unknown"},
	0x4007: {ErrScriptVarUndefined, "SCRIPT_VAR_UNDEFINED", "The variable has not been declared"},
	0x4008: {ErrScriptInvalidOptArg, "SCRIPT_INVALID_OPT_ARG", "This optional argument is not valid for this command"},
	0x4009: {ErrScriptInvalidVersion, "SCRIPT_INVALID_VERSION", "The stored script is generated for an older firmware version and cannot be run"},
	0x7FFF: {ErrFatal, "FATAL_ERROR", "A fatal error has occurred, the device must be reset"},
}

var unknownError = errorInfo{ErrUnknown, "UNKNOWN", "The error is unknown"}

func lookupError(code uint16) errorInfo {
	if info, ok := errorTable[code]; ok {
		return info
	}
	return unknownError
}

func (k ErrorKind) String() string {
	for _, info := range errorTable {
		if info.kind == k {
			return info.name
		}
	}
	return unknownError.name
}

// DeviceError is an error reported by the instrument on a "!" line.
type DeviceError struct {
	Code        uint16
	Kind        ErrorKind
	Description string
	Line        int // -1 when absent
	Column      int // -1 when absent
}

func (e *DeviceError) Error() string {
	s := fmt.Sprintf("device error 0x%04X %s: %s", e.Code, e.Kind, e.Description)
	if e.Line >= 0 {
		s += fmt.Sprintf(" (line %d", e.Line)
		if e.Column >= 0 {
			s += fmt.Sprintf(", col %d", e.Column)
		}
		s += ")"
	}
	return s
}

func (e *DeviceError) Is(target error) bool {
	return target == faults.ErrDeviceReported
}

var errorLinePattern = regexp.MustCompile(`^!([0-9A-Fa-f]{4})(?::\s*Line\s+(\d+)(?:,\s*Col\s+(\d+))?)?\s*$`)

// ParseError decodes a line of the form !XXXX[: Line L[, Col C]].
func ParseError(line string) (*DeviceError, error) {
	m := errorLinePattern.FindStringSubmatch(line)
	if m == nil {
		return nil, faults.Protocol("invalid error format: %q", line)
	}

	code, err := strconv.ParseUint(m[1], 16, 16)
	if err != nil {
		return nil, faults.Protocol("invalid error format: %q", line)
	}
	info := lookupError(uint16(code))

	e := &DeviceError{
		Code:        uint16(code),
		Kind:        info.kind,
		Description: info.descr,
		Line:        -1,
		Column:      -1,
	}
	if m[2] != "" {
		e.Line, _ = strconv.Atoi(m[2])
	}
	if m[3] != "" {
		e.Column, _ = strconv.Atoi(m[3])
	}
	return e, nil
}
