package protocol

import (
	"reflect"
	"testing"
)

func ptrInt64(v int64) *int64 { return &v }
func ptrBool(v bool) *bool    { return &v }
func ptrUint64(v uint64) *uint64 { return &v }

func roundtripToServer(t *testing.T, msg ToServer) ToServer {
	t.Helper()
	buf, err := EncodeToServer(msg)
	if err != nil {
		t.Fatalf("EncodeToServer: %v", err)
	}
	got, err := DecodeToServer(buf)
	if err != nil {
		t.Fatalf("DecodeToServer: %v", err)
	}
	return got
}

func roundtripToClient(t *testing.T, msg ToClient) ToClient {
	t.Helper()
	buf, err := EncodeToClient(msg)
	if err != nil {
		t.Fatalf("EncodeToClient: %v", err)
	}
	got, err := DecodeToClient(buf)
	if err != nil {
		t.Fatalf("DecodeToClient: %v", err)
	}
	return got
}

func TestToServerInitRoundtrip(t *testing.T) {
	msg := ToServerInit{
		Name:           "edge-01",
		Version:        3,
		TotalSlots:     16,
		LastCommandIdx: ptrInt64(42),
		PrepopulateActorNames: map[string]PrepopulateActor{
			"warm-1": {Metadata: `{"foo":"bar"}`},
		},
		Metadata: `{"region":"local"}`,
	}
	got := roundtripToServer(t, msg)
	if !reflect.DeepEqual(msg, got) {
		t.Fatalf("mismatch: got %#v want %#v", got, msg)
	}
}

func TestToServerInitNilLastCommandIdx(t *testing.T) {
	msg := ToServerInit{Name: "edge-01", Version: 1, TotalSlots: 1}
	got := roundtripToServer(t, msg).(ToServerInit)
	if got.LastCommandIdx != nil {
		t.Fatalf("expected nil LastCommandIdx, got %v", *got.LastCommandIdx)
	}
}

func TestToServerPingRoundtrip(t *testing.T) {
	msg := ToServerPing{TS: -1234}
	got := roundtripToServer(t, msg)
	if !reflect.DeepEqual(msg, got) {
		t.Fatalf("mismatch: got %#v want %#v", got, msg)
	}
}

func TestToServerEventsRoundtrip(t *testing.T) {
	alarm := ptrInt64(999)
	msg := ToServerEvents{Events: []EventWrapper{
		{Index: 1, Inner: ActorStateUpdate{ActorID: "a1", Generation: 1, State: ActorStateRunning{}}},
		{Index: 2, Inner: ActorStateUpdate{ActorID: "a1", Generation: 1, State: ActorStateStopped{Code: StopCodeOk, Message: "done"}}},
		{Index: 3, Inner: ActorIntent{ActorID: "a1", Generation: 1, Intent: ActorIntentSleep{}}},
		{Index: 4, Inner: ActorSetAlarm{ActorID: "a1", Generation: 1, AlarmTS: alarm}},
	}}
	got := roundtripToServer(t, msg)
	if !reflect.DeepEqual(msg, got) {
		t.Fatalf("mismatch: got %#v want %#v", got, msg)
	}
}

func TestToServerAckCommandsRoundtrip(t *testing.T) {
	msg := ToServerAckCommands{LastCommandIdx: 7}
	got := roundtripToServer(t, msg)
	if !reflect.DeepEqual(msg, got) {
		t.Fatalf("mismatch: got %#v want %#v", got, msg)
	}
}

func TestToServerStoppingRoundtrip(t *testing.T) {
	got := roundtripToServer(t, ToServerStopping{})
	if _, ok := got.(ToServerStopping); !ok {
		t.Fatalf("expected ToServerStopping, got %T", got)
	}
}

func TestToServerKvRequestVariants(t *testing.T) {
	cases := []KvRequestData{
		KvGetRequest{Keys: [][]byte{[]byte("a"), []byte("b")}},
		KvListRequest{Query: KvListQueryAll{}, Reverse: ptrBool(true), Limit: ptrUint64(10)},
		KvListRequest{Query: KvListQueryRange{Start: []byte("a"), End: []byte("z"), Exclusive: true}},
		KvListRequest{Query: KvListQueryPrefix{Key: []byte("pfx/")}},
		KvPutRequest{Keys: [][]byte{[]byte("k1")}, Values: [][]byte{[]byte("v1")}},
		KvDeleteRequest{Keys: [][]byte{[]byte("k1")}},
		KvDropRequest{},
	}
	for i, data := range cases {
		msg := ToServerKvRequest{ActorID: "a1", RequestID: uint32(i + 1), Data: data}
		got := roundtripToServer(t, msg)
		if !reflect.DeepEqual(msg, got) {
			t.Fatalf("case %d mismatch: got %#v want %#v", i, got, msg)
		}
	}
}

func TestToClientInitRoundtrip(t *testing.T) {
	msg := ToClientInit{
		RunnerID:     "runner-abc",
		LastEventIdx: 100,
		Metadata:     &InitMetadata{RunnerLostThresholdMS: ptrInt64(15000)},
	}
	got := roundtripToClient(t, msg)
	if !reflect.DeepEqual(msg, got) {
		t.Fatalf("mismatch: got %#v want %#v", got, msg)
	}
}

func TestToClientInitNoMetadata(t *testing.T) {
	msg := ToClientInit{RunnerID: "runner-abc", LastEventIdx: 0}
	got := roundtripToClient(t, msg).(ToClientInit)
	if got.Metadata != nil {
		t.Fatalf("expected nil Metadata, got %#v", got.Metadata)
	}
}

func TestToClientCommandsRoundtrip(t *testing.T) {
	msg := ToClientCommands{Commands: []CommandWrapper{
		{Index: 1, Inner: CommandStartActor{
			ActorID:    "a1",
			Generation: 1,
			Config: ActorConfig{
				Name:     "worker",
				Key:      ptrStr("k1"),
				CreateTS: 1000,
				Input:    []byte("payload"),
			},
		}},
		{Index: 2, Inner: CommandStopActor{ActorID: "a1", Generation: 1}},
	}}
	got := roundtripToClient(t, msg)
	if !reflect.DeepEqual(msg, got) {
		t.Fatalf("mismatch: got %#v want %#v", got, msg)
	}
}

func ptrStr(s string) *string { return &s }

func TestToClientAckEventsRoundtrip(t *testing.T) {
	msg := ToClientAckEvents{LastEventIdx: 55}
	got := roundtripToClient(t, msg)
	if !reflect.DeepEqual(msg, got) {
		t.Fatalf("mismatch: got %#v want %#v", got, msg)
	}
}

func TestToClientKvResponseVariants(t *testing.T) {
	cases := []KvResponseData{
		KvGetResponse{Keys: [][]byte{[]byte("k1")}, Values: [][]byte{[]byte("v1")}},
		KvListResponse{Keys: [][]byte{[]byte("k1"), []byte("k2")}, Values: [][]byte{[]byte("v1"), []byte("v2")}},
		KvErrorResponse{Message: "boom"},
		KvAck{},
	}
	for i, data := range cases {
		msg := ToClientKvResponse{RequestID: uint32(i + 1), Data: data}
		got := roundtripToClient(t, msg)
		if !reflect.DeepEqual(msg, got) {
			t.Fatalf("case %d mismatch: got %#v want %#v", i, got, msg)
		}
	}
}

func TestDecodeToClientEmptyFrame(t *testing.T) {
	if _, err := DecodeToClient(nil); err == nil {
		t.Fatal("expected error decoding empty frame")
	}
}

func TestDecodeToClientUnknownKind(t *testing.T) {
	if _, err := DecodeToClient([]byte{99}); err == nil {
		t.Fatal("expected error decoding unknown frame kind")
	}
}
