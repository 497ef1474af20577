/*
Package sidecar supervises a single long-running sidecar server process on behalf of a host application.

The sidecar is launched with --http-mode and is expected to serve a small HTTP API on localhost:8080:

	GET  /api/health   -> 2xx with a JSON body, optionally {"status": "..."}
	POST /api/prompt   {"prompt": "..."} -> 2xx with an opaque text body

A Manager composes a supervisor.Supervisor, which owns the child process, with a control.Client, which talks to it.
The host calls Start, Stop, HealthCheck and SendPrompt and reads IsRunning and LastError.
Every failure is returned as an error; nothing panics or exits the host.

Create one Manager per application and share it with everything that needs the sidecar.
*/
package sidecar
