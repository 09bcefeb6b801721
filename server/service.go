package server

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"mini-socket/message"
)

type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// NewService 创建 service 并扫描所有合法方法
func NewService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: rcvr must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	srv := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	srv.registerMethods()
	if len(srv.method) == 0 {
		return nil, fmt.Errorf("server: %s has no methods of the form Method(*Args, *Reply) error", srv.name)
	}
	return srv, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// registerMethods 扫描 struct 的导出方法，过滤出符合签名的
//   - 3 个入参: (receiver, *Args, *Reply)
//   - 1 个返回值: error
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		if method.Type.NumIn() != 3 || method.Type.NumOut() != 1 || method.Type.Out(0) != errorType ||
			method.Type.In(1).Kind() != reflect.Ptr || method.Type.In(2).Kind() != reflect.Ptr {
			continue
		}

		s.method[method.Name] = &methodType{
			method:    method,
			ArgType:   method.Type.In(1).Elem(),
			ReplyType: method.Type.In(2).Elem(),
		}
	}
}

// handler exposes one method as a message handler for type "Service.Method".
// The request's "payload" is decoded into the args struct; the reply struct becomes the reply's "payload".
func (s *service) handler(name string, mType *methodType) HandlerFunc {
	resultType := ResultType(s.name + "." + name)
	return func(ctx context.Context, req message.Message) (message.Message, error) {
		argv := reflect.New(mType.ArgType)
		replyv := reflect.New(mType.ReplyType)

		if payload, ok := req[FieldPayload]; ok {
			raw, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(raw, argv.Interface()); err != nil {
				return nil, fmt.Errorf("decode args: %w", err)
			}
		}

		if err := s.call(mType, argv, replyv); err != nil {
			return nil, err
		}
		return message.Message{
			message.FieldType: resultType,
			FieldPayload:      replyv.Interface(),
		}, nil
	}
}

// call 通过反射调用方法
func (s *service) call(mType *methodType, argv, replyv reflect.Value) error {
	args := [3]reflect.Value{s.rcvr, argv, replyv}
	results := mType.method.Func.Call(args[:])
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}
