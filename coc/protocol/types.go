package protocol

// FrameType identifies a link frame.
type FrameType uint8

const (
	FrameConnReq    FrameType = 1
	FrameConnRsp    FrameType = 2
	FrameCredits    FrameType = 3
	FrameDisconnReq FrameType = 4
	FrameDisconnRsp FrameType = 5
	FrameKFrame     FrameType = 6
	FrameHello      FrameType = 7
)

func (t FrameType) String() string {
	switch t {
	case FrameConnReq:
		return "CONN_REQ"
	case FrameConnRsp:
		return "CONN_RSP"
	case FrameCredits:
		return "CREDITS"
	case FrameDisconnReq:
		return "DISCONN_REQ"
	case FrameDisconnRsp:
		return "DISCONN_RSP"
	case FrameKFrame:
		return "K_FRAME"
	case FrameHello:
		return "HELLO"
	default:
		return "UNKNOWN"
	}
}

func (t FrameType) valid() bool { return t >= FrameConnReq && t <= FrameHello }

// Signaling reports whether frames of this type travel on the signaling CID.
func (t FrameType) Signaling() bool {
	return t >= FrameConnReq && t <= FrameDisconnRsp
}

// Flags modify how a frame payload is encoded.
type Flags uint8

const (
	FlagCompressed Flags = 1 << 0
)

// CIDSignaling is the fixed LE signaling channel.
const CIDSignaling uint16 = 0x0005

// FirstDynamicPSM is the first PSM handed out when a server registers PSM 0.
const FirstDynamicPSM uint16 = 0x0080
