package wire

// On-wire flow bytes: who holds the turn.
const (
	FlowMasterSlave byte = 0xF0 // host -> device
	FlowSlaveMaster byte = 0xF1 // device -> host (yield)
)

// Content-IDs name the logical stream a frame carries.
const (
	ContentOutCmd byte = 0xC0 // host -> device: outbound command
	ContentInCmd  byte = 0xC1 // device -> host: command response
	ContentProc   byte = 0xC2 // device -> host: process-tree snapshot
	ContentLog    byte = 0xC0 // device -> host: log line (shares 0xC0 with host's outbound command id; direction disambiguates)
	ContentNone   byte = 0x00 // device -> host: nothing to report this turn
)

// Terminators close a frame's payload.
const (
	DataEnd byte = 0x00 // end of message
	DataCut byte = 0x17 // end of fragment; message continues next turn
)

// initString is the command WireTransfer sends to (re)synchronize with the
// device when it (re)initializes the link.
const initString = "aaaaa"
