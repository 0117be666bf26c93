// Package rpc carries the replica and object services over gRPC.
//
// Messages are encoded in protobuf wire format by a codec registered under
// CodecName, and the services are described by hand-written ServiceDescs.
// Domain errors travel as status details and are rebuilt on the client, so
// errors.Is works across the wire. Object calls carry the numeric id of
// their procedure, which the server checks against its ProcedureTable.
package rpc
