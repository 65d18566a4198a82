package options

import "time"

type flagOptions struct {
	// pre-connect
	Latency     TimeDurationOption
	RcvLatency  TimeDurationOption
	PeerLatency TimeDurationOption
	ConnTimeout TimeDurationOption
	MSS         IntOption
	FlowWindow  IntOption
	RcvBuf      IntOption
	SndBuf      IntOption
	PayloadSize IntOption
	StreamID    StringOption
	Passphrase  StringOption
	PBKeyLen    IntOption
	NAKReport   BoolOption
	TSBPDMode   BoolOption
	TransType   StringOption

	// post-connect
	InputBW      IntOption
	MaxBW        IntOption
	OverheadBW   IntOption
	SndDropDelay TimeDurationOption
	LossMaxTTL   IntOption
}

// Flag is the engine flag vocabulary. Names match the wire-level flag
// names engines understand; restrictions tell in which phase each flag
// may be applied.
var Flag = flagOptions{
	Latency:     NewTimeDurationOption("latency", Pre, 120*time.Millisecond),
	RcvLatency:  NewTimeDurationOption("rcvlatency", Pre, 120*time.Millisecond),
	PeerLatency: NewTimeDurationOption("peerlatency", Pre, 0),
	ConnTimeout: NewTimeDurationOption("conntimeo", Pre, 3*time.Second),
	MSS:         NewIntOption("mss", Pre, 1500),
	FlowWindow:  NewIntOption("fc", Pre, 25600),
	RcvBuf:      NewIntOption("rcvbuf", Pre, 0),
	SndBuf:      NewIntOption("sndbuf", Pre, 0),
	PayloadSize: NewIntOption("payloadsize", Pre, 1316),
	StreamID:    NewStringOption("streamid", Pre, ""),
	Passphrase:  NewStringOption("passphrase", Pre, ""),
	PBKeyLen:    NewIntOption("pbkeylen", Pre, 0),
	NAKReport:   NewBoolOption("nakreport", Pre, true),
	TSBPDMode:   NewBoolOption("tsbpdmode", Pre, true),
	TransType:   NewStringOption("transtype", Pre, "live"),

	InputBW:      NewIntOption("inputbw", Post, 0),
	MaxBW:        NewIntOption("maxbw", Post, -1),
	OverheadBW:   NewIntOption("oheadbw", Post, 25),
	SndDropDelay: NewTimeDurationOption("snddropdelay", Post, 0),
	LossMaxTTL:   NewIntOption("lossmaxttl", Post, 0),
}
