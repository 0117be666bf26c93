// Package codec encodes the cluster's records in protobuf wire format
// without generated code. Tagged unions are protobuf oneofs; an unknown
// oneof tag or enum code is rejected with ErrUnknownDiscriminant rather
// than mapped to a default.
package codec
