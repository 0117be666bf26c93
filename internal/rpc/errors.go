package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ecstore/internal/codec"
	"ecstore/internal/consistency"
	"ecstore/internal/expect"
	"ecstore/internal/replication"
	"ecstore/internal/router"
	"ecstore/internal/storage"
	"ecstore/internal/topology"
)

const errorDomain = "ecstore"

// errorKinds maps sentinel errors to a reason carried in the status details
// and the status code. When an error matches several kinds, the first one
// decides the code.
var errorKinds = []struct {
	err    error
	reason string
	code   codes.Code
}{
	{expect.ErrPreconditionFailed, "PRECONDITION_FAILED", codes.FailedPrecondition},
	{consistency.ErrLeaderUnavailable, "LEADER_UNAVAILABLE", codes.Unavailable},
	{consistency.ErrTimeout, "TIMEOUT", codes.DeadlineExceeded},
	{context.DeadlineExceeded, "TIMEOUT", codes.DeadlineExceeded},
	{consistency.ErrInsufficientReplicas, "INSUFFICIENT_REPLICAS", codes.Unavailable},
	{consistency.ErrVersionConflict, "VERSION_CONFLICT", codes.Aborted},
	{storage.ErrStaleVersion, "STALE_VERSION", codes.Aborted},
	{consistency.ErrInvalidConsistency, "INVALID_CONSISTENCY", codes.InvalidArgument},
	{consistency.ErrInvalidDeadline, "INVALID_DEADLINE", codes.InvalidArgument},
	{router.ErrInvalidRequest, "INVALID_REQUEST", codes.InvalidArgument},
	{codec.ErrMalformed, "MALFORMED", codes.InvalidArgument},
	{codec.ErrUnknownDiscriminant, "UNKNOWN_DISCRIMINANT", codes.InvalidArgument},
	{router.ErrUnknownBucket, "UNKNOWN_BUCKET", codes.NotFound},
	{router.ErrUnknownMember, "UNKNOWN_MEMBER", codes.Unavailable},
	{replication.ErrNotEnoughMembers, "NOT_ENOUGH_MEMBERS", codes.Unavailable},
	{topology.ErrInvalidTopology, "INVALID_TOPOLOGY", codes.Internal},
	{ErrUnknownProcedure, "UNKNOWN_PROCEDURE", codes.Unimplemented},
	{context.Canceled, "CANCELED", codes.Canceled},
}

// toStatus converts a domain error into a gRPC status error. Every matching
// sentinel travels as an ErrorInfo detail so the peer can rebuild it.
func toStatus(err error) error {
	if err == nil {
		return nil
	}

	code := codes.Unknown
	var infos []*errdetails.ErrorInfo
	seen := make(map[string]bool)
	for _, k := range errorKinds {
		if !errors.Is(err, k.err) || seen[k.reason] {
			continue
		}
		if len(infos) == 0 {
			code = k.code
		}
		seen[k.reason] = true
		infos = append(infos, &errdetails.ErrorInfo{Reason: k.reason, Domain: errorDomain})
	}

	if len(infos) == 0 {
		if s, ok := status.FromError(err); ok {
			return s.Err()
		}
		return status.Error(codes.Internal, err.Error())
	}

	st := status.New(code, err.Error())
	for _, info := range infos {
		if withInfo, derr := st.WithDetails(info); derr == nil {
			st = withInfo
		}
	}
	return st.Err()
}

// RemoteError is an error returned by a peer. It matches the sentinel
// errors the peer reported with errors.Is.
type RemoteError struct {
	Code    codes.Code
	Message string
	Kinds   []error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Code, e.Message)
}

// Unwrap exposes the rebuilt sentinels.
func (e *RemoteError) Unwrap() []error {
	return e.Kinds
}

// GRPCStatus lets the error cross another gRPC boundary unchanged.
func (e *RemoteError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

// fromStatus rebuilds a domain error from a status returned by a peer.
// Transport failures without details keep their code and match no sentinel.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	re := &RemoteError{Code: st.Code(), Message: st.Message()}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != errorDomain {
			continue
		}
		if kind := kindOf(info.GetReason()); kind != nil {
			re.Kinds = append(re.Kinds, kind)
		}
	}
	if len(re.Kinds) == 0 && st.Code() == codes.DeadlineExceeded {
		re.Kinds = append(re.Kinds, consistency.ErrTimeout)
	}
	return re
}

// kindOf returns the first sentinel registered for reason.
func kindOf(reason string) error {
	for _, k := range errorKinds {
		if strings.EqualFold(k.reason, reason) {
			return k.err
		}
	}
	return nil
}
