package network

import "errors"

// ErrConnectionClosedByServer is returned when the websocket connection is closed by the server
type ErrConnectionClosedByServer struct{}

func (e *ErrConnectionClosedByServer) Error() string {
	return "connection closed by server"
}

// ErrConnectionClosedByClient is returned when the websocket connection is closed by the client
type ErrConnectionClosedByClient struct{}

func (e *ErrConnectionClosedByClient) Error() string {
	return "connection closed by client"
}

// ErrNotConnected is returned when sending while no connection is established
type ErrNotConnected struct{}

func (e *ErrNotConnected) Error() string {
	return "not connected"
}

func IsNotConnected(err error) bool {
	var target *ErrNotConnected
	return errors.As(err, &target)
}
