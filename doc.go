/*
Package signalr implements the client-side transport and connection
subsystem of the SignalR protocol: negotiation, transport selection
between WebSockets and HTTP long-polling, and the HTTPConnection state
machine that drives them.

Negotiation

Start() POSTs to <address>/negotiate, decodes the tagged NegotiationResponse
variant (error, redirection, or payload), follows redirects, and hands the
advertised transport list to a transportFactory that picks WebSockets over
LongPolling by fixed preference. WithSkipNegotiation bypasses this and goes
straight to a WebSocket transport.

Transports

Transport is the capability contract HTTPConnection drives: Start, Send,
Close, and a delegate that receives transportDidOpen / transportDidReceiveData
/ transportDidClose. webSocketTransport adapts github.com/coder/websocket;
longPollingTransport runs its own GET/POST/DELETE polling loop.

Scope

This package does not implement the Hub protocol (method invocation framing,
streaming, correlation IDs), does not implement a server role, and does not
reconnect automatically. Those concerns belong to layers built on top of the
ConnectionDelegate / Send / Stop surface this package exposes.
*/
package signalr
