// Package protocol defines the tagged wire messages exchanged over the
// control WebSocket between a runner and Pegboard, and the codec used
// to encode/decode them.
package protocol

// ActorConfig describes the actor a CommandStartActor is asking the
// runner to bring up.
type ActorConfig struct {
	Name     string
	Key      *string
	CreateTS int64 // ms since epoch
	Input    []byte
}

// Command is the sealed union of inner command payloads carried by a
// CommandWrapper.
type Command interface{ isCommand() }

type CommandStartActor struct {
	ActorID    string
	Generation int64
	Config     ActorConfig
}

type CommandStopActor struct {
	ActorID    string
	Generation int64
}

func (CommandStartActor) isCommand() {}
func (CommandStopActor) isCommand()  {}

// CommandWrapper pairs a server-assigned index with a command.
type CommandWrapper struct {
	Index int64
	Inner Command
}

// StopCode mirrors the server's ActorStateStopped.code enum. Only Ok is
// currently emitted by this runner.
type StopCode int

const (
	StopCodeOk StopCode = iota
)

// ActorState is the sealed union of ActorStateUpdate.state.
type ActorState interface{ isActorState() }

type ActorStateRunning struct{}

type ActorStateStopped struct {
	Code    StopCode
	Message string
}

func (ActorStateRunning) isActorState() {}
func (ActorStateStopped) isActorState() {}

// ActorIntentKind is the sealed union of ActorIntent.intent. Only Sleep
// is defined by the protocol today.
type ActorIntentKind interface{ isActorIntent() }

type ActorIntentSleep struct{}

func (ActorIntentSleep) isActorIntent() {}

// Event is the sealed union of inner event payloads carried by an
// EventWrapper.
type Event interface{ isEvent() }

type ActorStateUpdate struct {
	ActorID    string
	Generation int64
	State      ActorState
}

type ActorIntent struct {
	ActorID    string
	Generation int64
	Intent     ActorIntentKind
}

type ActorSetAlarm struct {
	ActorID    string
	Generation int64
	AlarmTS    *int64
}

func (ActorStateUpdate) isEvent() {}
func (ActorIntent) isEvent()      {}
func (ActorSetAlarm) isEvent()    {}

// EventWrapper pairs a runner-assigned index with an event.
type EventWrapper struct {
	Index int64
	Inner Event
}

// KvListQuery is the sealed union of KvList.query.
type KvListQuery interface{ isKvListQuery() }

type KvListQueryAll struct{}

type KvListQueryRange struct {
	Start     []byte
	End       []byte
	Exclusive bool
}

type KvListQueryPrefix struct {
	Key []byte
}

func (KvListQueryAll) isKvListQuery()    {}
func (KvListQueryRange) isKvListQuery()  {}
func (KvListQueryPrefix) isKvListQuery() {}

// KvRequestData is the sealed union of ToServerKvRequest.data.
type KvRequestData interface{ isKvRequestData() }

type KvGetRequest struct {
	Keys [][]byte
}

type KvListRequest struct {
	Query   KvListQuery
	Reverse *bool
	Limit   *uint64
}

type KvPutRequest struct {
	Keys   [][]byte
	Values [][]byte
}

type KvDeleteRequest struct {
	Keys [][]byte
}

type KvDropRequest struct{}

func (KvGetRequest) isKvRequestData()    {}
func (KvListRequest) isKvRequestData()   {}
func (KvPutRequest) isKvRequestData()    {}
func (KvDeleteRequest) isKvRequestData() {}
func (KvDropRequest) isKvRequestData()   {}

// KvResponseData is the sealed union of ToClientKvResponse.data.
type KvResponseData interface{ isKvResponseData() }

type KvGetResponse struct {
	Keys   [][]byte
	Values [][]byte
}

type KvListResponse struct {
	Keys   [][]byte
	Values [][]byte
}

type KvErrorResponse struct {
	Message string
}

// KvAck covers KvPutResponse / KvDeleteResponse / KvDropResponse: none
// of the three carry a payload beyond success.
type KvAck struct{}

func (KvGetResponse) isKvResponseData()  {}
func (KvListResponse) isKvResponseData() {}
func (KvErrorResponse) isKvResponseData() {}
func (KvAck) isKvResponseData()          {}

// InitMetadata carries optional server-advertised tunables delivered on
// the first ToClientInit of a connection.
type InitMetadata struct {
	RunnerLostThresholdMS *int64
}

// ToClient is the sealed union of inbound frames.
type ToClient interface{ isToClient() }

type ToClientInit struct {
	RunnerID     string
	LastEventIdx int64
	Metadata     *InitMetadata
}

type ToClientCommands struct {
	Commands []CommandWrapper
}

type ToClientAckEvents struct {
	LastEventIdx uint64
}

type ToClientKvResponse struct {
	RequestID uint32
	Data      KvResponseData
}

func (ToClientInit) isToClient()        {}
func (ToClientCommands) isToClient()    {}
func (ToClientAckEvents) isToClient()   {}
func (ToClientKvResponse) isToClient()  {}

// PrepopulateActor describes one entry of ToServerInit's
// prepopulate_actor_names map.
type PrepopulateActor struct {
	Metadata string // opaque JSON
}

// ToServer is the sealed union of outbound frames.
type ToServer interface{ isToServer() }

type ToServerInit struct {
	Name                   string
	Version                int64
	TotalSlots             int64
	LastCommandIdx         *int64
	PrepopulateActorNames  map[string]PrepopulateActor
	Metadata               string // opaque JSON
}

type ToServerPing struct {
	TS int64 // ms epoch
}

type ToServerEvents struct {
	Events []EventWrapper
}

type ToServerAckCommands struct {
	LastCommandIdx int64
}

type ToServerStopping struct{}

type ToServerKvRequest struct {
	ActorID   string
	RequestID uint32
	Data      KvRequestData
}

func (ToServerInit) isToServer()        {}
func (ToServerPing) isToServer()        {}
func (ToServerEvents) isToServer()      {}
func (ToServerAckCommands) isToServer() {}
func (ToServerStopping) isToServer()    {}
func (ToServerKvRequest) isToServer()   {}
