package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Frame kind bytes. Each WebSocket binary message starts with one of
// these, identifying which union variant follows.
const (
	kindToClientInit       byte = 1
	kindToClientCommands   byte = 2
	kindToClientAckEvents  byte = 3
	kindToClientKvResponse byte = 4

	kindToServerInit        byte = 1
	kindToServerPing        byte = 2
	kindToServerEvents      byte = 3
	kindToServerAckCommands byte = 4
	kindToServerStopping    byte = 5
	kindToServerKvRequest   byte = 6
)

func indexFields(fs []field) map[protowire.Number][]field {
	m := make(map[protowire.Number][]field, len(fs))
	for _, f := range fs {
		m[f.num] = append(m[f.num], f)
	}
	return m
}

func first(m map[protowire.Number][]field, num protowire.Number) (field, bool) {
	fs, ok := m[num]
	if !ok || len(fs) == 0 {
		return field{}, false
	}
	return fs[0], true
}

// ---- EncodeToServer / DecodeToServer ----

// EncodeToServer serializes an outbound message into a single
// WebSocket binary frame payload.
func EncodeToServer(msg ToServer) ([]byte, error) {
	switch m := msg.(type) {
	case ToServerInit:
		return append([]byte{kindToServerInit}, marshalToServerInit(m)...), nil
	case ToServerPing:
		return append([]byte{kindToServerPing}, marshalToServerPing(m)...), nil
	case ToServerEvents:
		return append([]byte{kindToServerEvents}, marshalToServerEvents(m)...), nil
	case ToServerAckCommands:
		return append([]byte{kindToServerAckCommands}, marshalToServerAckCommands(m)...), nil
	case ToServerStopping:
		return []byte{kindToServerStopping}, nil
	case ToServerKvRequest:
		return append([]byte{kindToServerKvRequest}, marshalToServerKvRequest(m)...), nil
	default:
		return nil, fmt.Errorf("protocol: unknown ToServer variant %T", msg)
	}
}

// DecodeToServer parses a WebSocket binary frame payload sent by a
// runner. Primarily used by tests that simulate the server side.
func DecodeToServer(buf []byte) (ToServer, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("protocol: empty frame")
	}
	kind, body := buf[0], buf[1:]
	fs, err := decodeFields(body)
	if err != nil {
		return nil, err
	}
	m := indexFields(fs)
	switch kind {
	case kindToServerInit:
		return unmarshalToServerInit(m)
	case kindToServerPing:
		return unmarshalToServerPing(m), nil
	case kindToServerEvents:
		return unmarshalToServerEvents(m)
	case kindToServerAckCommands:
		return unmarshalToServerAckCommands(m), nil
	case kindToServerStopping:
		return ToServerStopping{}, nil
	case kindToServerKvRequest:
		return unmarshalToServerKvRequest(m)
	default:
		return nil, fmt.Errorf("protocol: unknown ToServer frame kind %d", kind)
	}
}

// ---- EncodeToClient / DecodeToClient ----

// EncodeToClient serializes an inbound message. Primarily used by
// tests that simulate the server side.
func EncodeToClient(msg ToClient) ([]byte, error) {
	switch m := msg.(type) {
	case ToClientInit:
		return append([]byte{kindToClientInit}, marshalToClientInit(m)...), nil
	case ToClientCommands:
		return append([]byte{kindToClientCommands}, marshalToClientCommands(m)...), nil
	case ToClientAckEvents:
		return append([]byte{kindToClientAckEvents}, appendVarint(nil, 1, m.LastEventIdx)...), nil
	case ToClientKvResponse:
		return append([]byte{kindToClientKvResponse}, marshalToClientKvResponse(m)...), nil
	default:
		return nil, fmt.Errorf("protocol: unknown ToClient variant %T", msg)
	}
}

// DecodeToClient parses a WebSocket binary frame payload sent by
// Pegboard.
func DecodeToClient(buf []byte) (ToClient, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("protocol: empty frame")
	}
	kind, body := buf[0], buf[1:]
	fs, err := decodeFields(body)
	if err != nil {
		return nil, err
	}
	m := indexFields(fs)
	switch kind {
	case kindToClientInit:
		return unmarshalToClientInit(m)
	case kindToClientCommands:
		return unmarshalToClientCommands(m)
	case kindToClientAckEvents:
		f, _ := first(m, 1)
		return ToClientAckEvents{LastEventIdx: f.varint}, nil
	case kindToClientKvResponse:
		return unmarshalToClientKvResponse(m)
	default:
		return nil, fmt.Errorf("protocol: unknown ToClient frame kind %d", kind)
	}
}

// ---- ActorConfig ----

func marshalActorConfig(c ActorConfig) []byte {
	var b []byte
	b = appendString(b, 1, c.Name)
	if c.Key != nil {
		b = appendString(b, 2, *c.Key)
	}
	b = appendSInt64(b, 3, c.CreateTS)
	if c.Input != nil {
		b = appendBytes(b, 4, c.Input)
	}
	return b
}

func unmarshalActorConfig(body []byte) (ActorConfig, error) {
	fs, err := decodeFields(body)
	if err != nil {
		return ActorConfig{}, err
	}
	m := indexFields(fs)
	var c ActorConfig
	if f, ok := first(m, 1); ok {
		c.Name = f.asString()
	}
	if f, ok := first(m, 2); ok {
		s := f.asString()
		c.Key = &s
	}
	if f, ok := first(m, 3); ok {
		c.CreateTS = f.asSInt64()
	}
	if f, ok := first(m, 4); ok {
		c.Input = f.bytes
	}
	return c, nil
}

// ---- CommandStartActor / CommandStopActor / CommandWrapper ----

func marshalCommandStartActor(c CommandStartActor) []byte {
	var b []byte
	b = appendString(b, 1, c.ActorID)
	b = appendSInt64(b, 2, c.Generation)
	b = appendMessage(b, 3, marshalActorConfig(c.Config))
	return b
}

func unmarshalCommandStartActor(body []byte) (CommandStartActor, error) {
	fs, err := decodeFields(body)
	if err != nil {
		return CommandStartActor{}, err
	}
	m := indexFields(fs)
	var c CommandStartActor
	if f, ok := first(m, 1); ok {
		c.ActorID = f.asString()
	}
	if f, ok := first(m, 2); ok {
		c.Generation = f.asSInt64()
	}
	if f, ok := first(m, 3); ok {
		cfg, err := unmarshalActorConfig(f.bytes)
		if err != nil {
			return CommandStartActor{}, err
		}
		c.Config = cfg
	}
	return c, nil
}

func marshalCommandStopActor(c CommandStopActor) []byte {
	var b []byte
	b = appendString(b, 1, c.ActorID)
	b = appendSInt64(b, 2, c.Generation)
	return b
}

func unmarshalCommandStopActor(body []byte) (CommandStopActor, error) {
	fs, err := decodeFields(body)
	if err != nil {
		return CommandStopActor{}, err
	}
	m := indexFields(fs)
	var c CommandStopActor
	if f, ok := first(m, 1); ok {
		c.ActorID = f.asString()
	}
	if f, ok := first(m, 2); ok {
		c.Generation = f.asSInt64()
	}
	return c, nil
}

func marshalCommandWrapper(w CommandWrapper) []byte {
	var b []byte
	b = appendSInt64(b, 1, w.Index)
	switch inner := w.Inner.(type) {
	case CommandStartActor:
		b = appendMessage(b, 2, marshalCommandStartActor(inner))
	case CommandStopActor:
		b = appendMessage(b, 3, marshalCommandStopActor(inner))
	}
	return b
}

func unmarshalCommandWrapper(body []byte) (CommandWrapper, error) {
	fs, err := decodeFields(body)
	if err != nil {
		return CommandWrapper{}, err
	}
	m := indexFields(fs)
	var w CommandWrapper
	if f, ok := first(m, 1); ok {
		w.Index = f.asSInt64()
	}
	if f, ok := first(m, 2); ok {
		inner, err := unmarshalCommandStartActor(f.bytes)
		if err != nil {
			return CommandWrapper{}, err
		}
		w.Inner = inner
	} else if f, ok := first(m, 3); ok {
		inner, err := unmarshalCommandStopActor(f.bytes)
		if err != nil {
			return CommandWrapper{}, err
		}
		w.Inner = inner
	} else {
		return CommandWrapper{}, fmt.Errorf("protocol: CommandWrapper missing inner command")
	}
	return w, nil
}

// ---- ToClientInit / ToClientCommands ----

func marshalToClientInit(msg ToClientInit) []byte {
	var b []byte
	b = appendString(b, 1, msg.RunnerID)
	b = appendSInt64(b, 2, msg.LastEventIdx)
	if msg.Metadata != nil {
		var meta []byte
		if msg.Metadata.RunnerLostThresholdMS != nil {
			meta = appendSInt64(meta, 1, *msg.Metadata.RunnerLostThresholdMS)
		}
		b = appendMessage(b, 3, meta)
	}
	return b
}

func unmarshalToClientInit(m map[protowire.Number][]field) (ToClientInit, error) {
	var msg ToClientInit
	if f, ok := first(m, 1); ok {
		msg.RunnerID = f.asString()
	}
	if f, ok := first(m, 2); ok {
		msg.LastEventIdx = f.asSInt64()
	}
	if f, ok := first(m, 3); ok {
		metaFields, err := decodeFields(f.bytes)
		if err != nil {
			return ToClientInit{}, err
		}
		mm := indexFields(metaFields)
		meta := &InitMetadata{}
		if mf, ok := first(mm, 1); ok {
			v := mf.asSInt64()
			meta.RunnerLostThresholdMS = &v
		}
		msg.Metadata = meta
	}
	return msg, nil
}

func marshalToClientCommands(msg ToClientCommands) []byte {
	var b []byte
	for _, c := range msg.Commands {
		b = appendMessage(b, 1, marshalCommandWrapper(c))
	}
	return b
}

func unmarshalToClientCommands(m map[protowire.Number][]field) (ToClientCommands, error) {
	var msg ToClientCommands
	for _, f := range m[1] {
		w, err := unmarshalCommandWrapper(f.bytes)
		if err != nil {
			return ToClientCommands{}, err
		}
		msg.Commands = append(msg.Commands, w)
	}
	return msg, nil
}

// ---- Kv response payloads ----

func marshalKvGetResponse(r KvGetResponse) []byte {
	var b []byte
	for _, k := range r.Keys {
		b = appendBytes(b, 1, k)
	}
	for _, v := range r.Values {
		b = appendBytes(b, 2, v)
	}
	return b
}

func unmarshalKvGetResponse(body []byte) (KvGetResponse, error) {
	fs, err := decodeFields(body)
	if err != nil {
		return KvGetResponse{}, err
	}
	m := indexFields(fs)
	var r KvGetResponse
	for _, f := range m[1] {
		r.Keys = append(r.Keys, f.bytes)
	}
	for _, f := range m[2] {
		r.Values = append(r.Values, f.bytes)
	}
	return r, nil
}

func marshalKvListResponse(r KvListResponse) []byte {
	var b []byte
	for _, k := range r.Keys {
		b = appendBytes(b, 1, k)
	}
	for _, v := range r.Values {
		b = appendBytes(b, 2, v)
	}
	return b
}

func unmarshalKvListResponse(body []byte) (KvListResponse, error) {
	fs, err := decodeFields(body)
	if err != nil {
		return KvListResponse{}, err
	}
	m := indexFields(fs)
	var r KvListResponse
	for _, f := range m[1] {
		r.Keys = append(r.Keys, f.bytes)
	}
	for _, f := range m[2] {
		r.Values = append(r.Values, f.bytes)
	}
	return r, nil
}

func marshalKvErrorResponse(r KvErrorResponse) []byte {
	return appendString(nil, 1, r.Message)
}

func unmarshalKvErrorResponse(body []byte) (KvErrorResponse, error) {
	fs, err := decodeFields(body)
	if err != nil {
		return KvErrorResponse{}, err
	}
	m := indexFields(fs)
	var r KvErrorResponse
	if f, ok := first(m, 1); ok {
		r.Message = f.asString()
	}
	return r, nil
}

func marshalToClientKvResponse(msg ToClientKvResponse) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(msg.RequestID))
	switch d := msg.Data.(type) {
	case KvGetResponse:
		b = appendMessage(b, 2, marshalKvGetResponse(d))
	case KvListResponse:
		b = appendMessage(b, 3, marshalKvListResponse(d))
	case KvErrorResponse:
		b = appendMessage(b, 4, marshalKvErrorResponse(d))
	case KvAck:
		b = appendMessage(b, 5, nil)
	}
	return b
}

func unmarshalToClientKvResponse(m map[protowire.Number][]field) (ToClientKvResponse, error) {
	var msg ToClientKvResponse
	if f, ok := first(m, 1); ok {
		msg.RequestID = uint32(f.varint)
	}
	switch {
	case len(m[2]) > 0:
		d, err := unmarshalKvGetResponse(m[2][0].bytes)
		if err != nil {
			return ToClientKvResponse{}, err
		}
		msg.Data = d
	case len(m[3]) > 0:
		d, err := unmarshalKvListResponse(m[3][0].bytes)
		if err != nil {
			return ToClientKvResponse{}, err
		}
		msg.Data = d
	case len(m[4]) > 0:
		d, err := unmarshalKvErrorResponse(m[4][0].bytes)
		if err != nil {
			return ToClientKvResponse{}, err
		}
		msg.Data = d
	case len(m[5]) > 0:
		msg.Data = KvAck{}
	default:
		return ToClientKvResponse{}, fmt.Errorf("protocol: ToClientKvResponse missing data")
	}
	return msg, nil
}

// ---- ToServerInit ----

func marshalToServerInit(msg ToServerInit) []byte {
	var b []byte
	b = appendString(b, 1, msg.Name)
	b = appendSInt64(b, 2, msg.Version)
	b = appendSInt64(b, 3, msg.TotalSlots)
	if msg.LastCommandIdx != nil {
		b = appendSInt64(b, 4, *msg.LastCommandIdx)
	}
	for name, pa := range msg.PrepopulateActorNames {
		var entry []byte
		entry = appendString(entry, 1, name)
		entry = appendString(entry, 2, pa.Metadata)
		b = appendMessage(b, 5, entry)
	}
	b = appendString(b, 6, msg.Metadata)
	return b
}

func unmarshalToServerInit(m map[protowire.Number][]field) (ToServerInit, error) {
	var msg ToServerInit
	if f, ok := first(m, 1); ok {
		msg.Name = f.asString()
	}
	if f, ok := first(m, 2); ok {
		msg.Version = f.asSInt64()
	}
	if f, ok := first(m, 3); ok {
		msg.TotalSlots = f.asSInt64()
	}
	if f, ok := first(m, 4); ok {
		v := f.asSInt64()
		msg.LastCommandIdx = &v
	}
	if len(m[5]) > 0 {
		msg.PrepopulateActorNames = make(map[string]PrepopulateActor, len(m[5]))
		for _, f := range m[5] {
			entryFields, err := decodeFields(f.bytes)
			if err != nil {
				return ToServerInit{}, err
			}
			em := indexFields(entryFields)
			var name string
			var pa PrepopulateActor
			if nf, ok := first(em, 1); ok {
				name = nf.asString()
			}
			if mf, ok := first(em, 2); ok {
				pa.Metadata = mf.asString()
			}
			msg.PrepopulateActorNames[name] = pa
		}
	}
	if f, ok := first(m, 6); ok {
		msg.Metadata = f.asString()
	}
	return msg, nil
}

func marshalToServerPing(msg ToServerPing) []byte {
	return appendSInt64(nil, 1, msg.TS)
}

func unmarshalToServerPing(m map[protowire.Number][]field) ToServerPing {
	var msg ToServerPing
	if f, ok := first(m, 1); ok {
		msg.TS = f.asSInt64()
	}
	return msg
}

// ---- Events ----

func marshalActorStateUpdate(e ActorStateUpdate) []byte {
	var b []byte
	b = appendString(b, 1, e.ActorID)
	b = appendSInt64(b, 2, e.Generation)
	switch s := e.State.(type) {
	case ActorStateRunning:
		b = appendMessage(b, 3, nil)
	case ActorStateStopped:
		var sb []byte
		sb = appendVarint(sb, 1, uint64(s.Code))
		sb = appendString(sb, 2, s.Message)
		b = appendMessage(b, 4, sb)
	}
	return b
}

func unmarshalActorStateUpdate(body []byte) (ActorStateUpdate, error) {
	fs, err := decodeFields(body)
	if err != nil {
		return ActorStateUpdate{}, err
	}
	m := indexFields(fs)
	var e ActorStateUpdate
	if f, ok := first(m, 1); ok {
		e.ActorID = f.asString()
	}
	if f, ok := first(m, 2); ok {
		e.Generation = f.asSInt64()
	}
	switch {
	case len(m[3]) > 0:
		e.State = ActorStateRunning{}
	case len(m[4]) > 0:
		sfs, err := decodeFields(m[4][0].bytes)
		if err != nil {
			return ActorStateUpdate{}, err
		}
		sm := indexFields(sfs)
		var stopped ActorStateStopped
		if sf, ok := first(sm, 1); ok {
			stopped.Code = StopCode(sf.varint)
		}
		if sf, ok := first(sm, 2); ok {
			stopped.Message = sf.asString()
		}
		e.State = stopped
	default:
		return ActorStateUpdate{}, fmt.Errorf("protocol: ActorStateUpdate missing state")
	}
	return e, nil
}

func marshalActorIntent(e ActorIntent) []byte {
	var b []byte
	b = appendString(b, 1, e.ActorID)
	b = appendSInt64(b, 2, e.Generation)
	switch e.Intent.(type) {
	case ActorIntentSleep:
		b = appendMessage(b, 3, nil)
	}
	return b
}

func unmarshalActorIntent(body []byte) (ActorIntent, error) {
	fs, err := decodeFields(body)
	if err != nil {
		return ActorIntent{}, err
	}
	m := indexFields(fs)
	var e ActorIntent
	if f, ok := first(m, 1); ok {
		e.ActorID = f.asString()
	}
	if f, ok := first(m, 2); ok {
		e.Generation = f.asSInt64()
	}
	if len(m[3]) > 0 {
		e.Intent = ActorIntentSleep{}
	}
	return e, nil
}

func marshalActorSetAlarm(e ActorSetAlarm) []byte {
	var b []byte
	b = appendString(b, 1, e.ActorID)
	b = appendSInt64(b, 2, e.Generation)
	if e.AlarmTS != nil {
		b = appendSInt64(b, 3, *e.AlarmTS)
	}
	return b
}

func unmarshalActorSetAlarm(body []byte) (ActorSetAlarm, error) {
	fs, err := decodeFields(body)
	if err != nil {
		return ActorSetAlarm{}, err
	}
	m := indexFields(fs)
	var e ActorSetAlarm
	if f, ok := first(m, 1); ok {
		e.ActorID = f.asString()
	}
	if f, ok := first(m, 2); ok {
		e.Generation = f.asSInt64()
	}
	if f, ok := first(m, 3); ok {
		v := f.asSInt64()
		e.AlarmTS = &v
	}
	return e, nil
}

func marshalEventWrapper(w EventWrapper) []byte {
	var b []byte
	b = appendSInt64(b, 1, w.Index)
	switch inner := w.Inner.(type) {
	case ActorStateUpdate:
		b = appendMessage(b, 2, marshalActorStateUpdate(inner))
	case ActorIntent:
		b = appendMessage(b, 3, marshalActorIntent(inner))
	case ActorSetAlarm:
		b = appendMessage(b, 4, marshalActorSetAlarm(inner))
	}
	return b
}

func unmarshalEventWrapper(body []byte) (EventWrapper, error) {
	fs, err := decodeFields(body)
	if err != nil {
		return EventWrapper{}, err
	}
	m := indexFields(fs)
	var w EventWrapper
	if f, ok := first(m, 1); ok {
		w.Index = f.asSInt64()
	}
	switch {
	case len(m[2]) > 0:
		inner, err := unmarshalActorStateUpdate(m[2][0].bytes)
		if err != nil {
			return EventWrapper{}, err
		}
		w.Inner = inner
	case len(m[3]) > 0:
		inner, err := unmarshalActorIntent(m[3][0].bytes)
		if err != nil {
			return EventWrapper{}, err
		}
		w.Inner = inner
	case len(m[4]) > 0:
		inner, err := unmarshalActorSetAlarm(m[4][0].bytes)
		if err != nil {
			return EventWrapper{}, err
		}
		w.Inner = inner
	default:
		return EventWrapper{}, fmt.Errorf("protocol: EventWrapper missing inner event")
	}
	return w, nil
}

func marshalToServerEvents(msg ToServerEvents) []byte {
	var b []byte
	for _, e := range msg.Events {
		b = appendMessage(b, 1, marshalEventWrapper(e))
	}
	return b
}

func unmarshalToServerEvents(m map[protowire.Number][]field) (ToServerEvents, error) {
	var msg ToServerEvents
	for _, f := range m[1] {
		w, err := unmarshalEventWrapper(f.bytes)
		if err != nil {
			return ToServerEvents{}, err
		}
		msg.Events = append(msg.Events, w)
	}
	return msg, nil
}

func marshalToServerAckCommands(msg ToServerAckCommands) []byte {
	return appendSInt64(nil, 1, msg.LastCommandIdx)
}

func unmarshalToServerAckCommands(m map[protowire.Number][]field) ToServerAckCommands {
	var msg ToServerAckCommands
	if f, ok := first(m, 1); ok {
		msg.LastCommandIdx = f.asSInt64()
	}
	return msg
}

// ---- Kv requests ----

func marshalKvListQuery(q KvListQuery) (num protowire.Number, body []byte) {
	switch v := q.(type) {
	case KvListQueryAll:
		return 1, nil
	case KvListQueryRange:
		var b []byte
		b = appendBytes(b, 1, v.Start)
		b = appendBytes(b, 2, v.End)
		b = appendBool(b, 3, v.Exclusive)
		return 2, b
	case KvListQueryPrefix:
		return 3, appendBytes(nil, 1, v.Key)
	default:
		return 0, nil
	}
}

func unmarshalKvListQuery(m map[protowire.Number][]field) (KvListQuery, error) {
	switch {
	case len(m[1]) > 0:
		return KvListQueryAll{}, nil
	case len(m[2]) > 0:
		fs, err := decodeFields(m[2][0].bytes)
		if err != nil {
			return nil, err
		}
		rm := indexFields(fs)
		var r KvListQueryRange
		if f, ok := first(rm, 1); ok {
			r.Start = f.bytes
		}
		if f, ok := first(rm, 2); ok {
			r.End = f.bytes
		}
		if f, ok := first(rm, 3); ok {
			r.Exclusive = f.asBool()
		}
		return r, nil
	case len(m[3]) > 0:
		fs, err := decodeFields(m[3][0].bytes)
		if err != nil {
			return nil, err
		}
		pm := indexFields(fs)
		var p KvListQueryPrefix
		if f, ok := first(pm, 1); ok {
			p.Key = f.bytes
		}
		return p, nil
	default:
		return nil, fmt.Errorf("protocol: KvList missing query")
	}
}

func marshalKvRequestData(d KvRequestData) (num protowire.Number, body []byte) {
	switch v := d.(type) {
	case KvGetRequest:
		var b []byte
		for _, k := range v.Keys {
			b = appendBytes(b, 1, k)
		}
		return 1, b
	case KvListRequest:
		var b []byte
		qn, qb := marshalKvListQuery(v.Query)
		b = appendMessage(b, qn, qb)
		if v.Reverse != nil {
			b = appendBool(b, 4, *v.Reverse)
		}
		if v.Limit != nil {
			b = appendVarint(b, 5, *v.Limit)
		}
		return 2, b
	case KvPutRequest:
		var b []byte
		for _, k := range v.Keys {
			b = appendBytes(b, 1, k)
		}
		for _, val := range v.Values {
			b = appendBytes(b, 2, val)
		}
		return 3, b
	case KvDeleteRequest:
		var b []byte
		for _, k := range v.Keys {
			b = appendBytes(b, 1, k)
		}
		return 4, b
	case KvDropRequest:
		return 5, nil
	default:
		return 0, nil
	}
}

func unmarshalKvRequestData(m map[protowire.Number][]field) (KvRequestData, error) {
	switch {
	case len(m[1]) > 0:
		fs, err := decodeFields(m[1][0].bytes)
		if err != nil {
			return nil, err
		}
		gm := indexFields(fs)
		var g KvGetRequest
		for _, f := range gm[1] {
			g.Keys = append(g.Keys, f.bytes)
		}
		return g, nil
	case len(m[2]) > 0:
		fs, err := decodeFields(m[2][0].bytes)
		if err != nil {
			return nil, err
		}
		lm := indexFields(fs)
		var l KvListRequest
		qm := map[protowire.Number][]field{}
		for num := protowire.Number(1); num <= 3; num++ {
			if fs, ok := lm[num]; ok {
				qm[num] = fs
			}
		}
		q, err := unmarshalKvListQuery(qm)
		if err != nil {
			return nil, err
		}
		l.Query = q
		if f, ok := first(lm, 4); ok {
			v := f.asBool()
			l.Reverse = &v
		}
		if f, ok := first(lm, 5); ok {
			v := f.varint
			l.Limit = &v
		}
		return l, nil
	case len(m[3]) > 0:
		fs, err := decodeFields(m[3][0].bytes)
		if err != nil {
			return nil, err
		}
		pm := indexFields(fs)
		var p KvPutRequest
		for _, f := range pm[1] {
			p.Keys = append(p.Keys, f.bytes)
		}
		for _, f := range pm[2] {
			p.Values = append(p.Values, f.bytes)
		}
		return p, nil
	case len(m[4]) > 0:
		fs, err := decodeFields(m[4][0].bytes)
		if err != nil {
			return nil, err
		}
		dm := indexFields(fs)
		var d KvDeleteRequest
		for _, f := range dm[1] {
			d.Keys = append(d.Keys, f.bytes)
		}
		return d, nil
	case len(m[5]) > 0:
		return KvDropRequest{}, nil
	default:
		return nil, fmt.Errorf("protocol: ToServerKvRequest missing data")
	}
}

func marshalToServerKvRequest(msg ToServerKvRequest) []byte {
	var b []byte
	b = appendString(b, 1, msg.ActorID)
	b = appendVarint(b, 2, uint64(msg.RequestID))
	num, body := marshalKvRequestData(msg.Data)
	b = appendMessage(b, num+2, body) // data fields start at 3
	return b
}

func unmarshalToServerKvRequest(m map[protowire.Number][]field) (ToServerKvRequest, error) {
	var msg ToServerKvRequest
	if f, ok := first(m, 1); ok {
		msg.ActorID = f.asString()
	}
	if f, ok := first(m, 2); ok {
		msg.RequestID = uint32(f.varint)
	}
	dataFields := map[protowire.Number][]field{}
	for num := protowire.Number(3); num <= 7; num++ {
		if fs, ok := m[num]; ok {
			dataFields[num-2] = fs
		}
	}
	data, err := unmarshalKvRequestData(dataFields)
	if err != nil {
		return ToServerKvRequest{}, err
	}
	msg.Data = data
	return msg, nil
}
