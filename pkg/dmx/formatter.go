// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 OpenStagecraft contributors

package dmx

import "fmt"

// FormatPID returns the human-readable name for a parameter identifier.
func FormatPID(pid PID) string {
	switch pid {
	case PIDDiscUniqueBranch:
		return "DISC_UNIQUE_BRANCH"
	case PIDDiscMute:
		return "DISC_MUTE"
	case PIDDiscUnMute:
		return "DISC_UN_MUTE"
	case PIDSupportedParameters:
		return "SUPPORTED_PARAMETERS"
	case PIDParameterDescription:
		return "PARAMETER_DESCRIPTION"
	case PIDDeviceInfo:
		return "DEVICE_INFO"
	case PIDSoftwareVersionLabel:
		return "SOFTWARE_VERSION_LABEL"
	case PIDBootSoftwareVersion:
		return "BOOT_SOFTWARE_VERSION_ID"
	case PIDDMXStartAddress:
		return "DMX_START_ADDRESS"
	case PIDIdentifyDevice:
		return "IDENTIFY_DEVICE"
	default:
		return fmt.Sprintf("PID_0x%04X", uint16(pid))
	}
}

// FormatCC returns the human-readable name for a command class.
func FormatCC(cc CommandClass) string {
	switch cc {
	case CCDiscCommand:
		return "DISC_COMMAND"
	case CCDiscCommandResponse:
		return "DISC_COMMAND_RESPONSE"
	case CCGetCommand:
		return "GET_COMMAND"
	case CCGetCommandResponse:
		return "GET_COMMAND_RESPONSE"
	case CCSetCommand:
		return "SET_COMMAND"
	case CCSetCommandResponse:
		return "SET_COMMAND_RESPONSE"
	default:
		return fmt.Sprintf("CC_0x%02X", uint8(cc))
	}
}

// FormatResponseType returns the human-readable name for a response type.
func FormatResponseType(rt ResponseType) string {
	switch rt {
	case ResponseTypeAck:
		return "ACK"
	case ResponseTypeAckTimer:
		return "ACK_TIMER"
	case ResponseTypeNackReason:
		return "NACK_REASON"
	case ResponseTypeAckOverflow:
		return "ACK_OVERFLOW"
	case ResponseTypeNone:
		return "NONE"
	case ResponseTypeInvalid:
		return "INVALID"
	default:
		return fmt.Sprintf("RT_0x%02X", uint8(rt))
	}
}

// FormatNackReason returns the human-readable name for a NACK reason.
func FormatNackReason(nr NackReason) string {
	switch nr {
	case NRUnknownPid:
		return "UNKNOWN_PID"
	case NRFormatError:
		return "FORMAT_ERROR"
	case NRHardwareFault:
		return "HARDWARE_FAULT"
	case NRProxyReject:
		return "PROXY_REJECT"
	case NRWriteProtect:
		return "WRITE_PROTECT"
	case NRUnsupportedCommandClass:
		return "UNSUPPORTED_COMMAND_CLASS"
	case NRDataOutOfRange:
		return "DATA_OUT_OF_RANGE"
	case NRBufferFull:
		return "BUFFER_FULL"
	case NRPacketSizeUnsupported:
		return "PACKET_SIZE_UNSUPPORTED"
	case NRSubDeviceOutOfRange:
		return "SUB_DEVICE_OUT_OF_RANGE"
	case NRProxyBufferFull:
		return "PROXY_BUFFER_FULL"
	default:
		return fmt.Sprintf("NR_0x%04X", uint16(nr))
	}
}

// FormatHeader formats a decoded RDM header into a human-readable
// multi-line string.
func FormatHeader(h *Header) string {
	result := fmt.Sprintf("%s %s (0x%04X)\n", FormatCC(h.CC), FormatPID(h.PID), uint16(h.PID))
	result += fmt.Sprintf("  %s -> %s tn=%d\n", h.SrcUID, h.DestUID, h.TN)
	if h.CC.IsResponse() {
		result += fmt.Sprintf("  response=%s msg_count=%d pdl=%d\n",
			FormatResponseType(h.ResponseType), h.MessageCount, h.PDL)
	} else {
		result += fmt.Sprintf("  port=%d sub_device=%d pdl=%d\n",
			h.PortID, h.SubDevice, h.PDL)
	}
	return result
}
