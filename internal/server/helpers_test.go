package server

import (
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func wrapBytes(s string) *wrapperspb.BytesValue { return wrapperspb.Bytes([]byte(s)) }

func emptyReply() *emptypb.Empty { return &emptypb.Empty{} }
