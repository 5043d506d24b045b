// Package gocdp is a browser-automation runtime that drives Chromium-family
// browsers over the Chrome DevTools Protocol (CDP) through a single
// WebSocket, without any WebDriver intermediary.
//
// It exposes a three-tier object model — Browser, Tab, and WebElement —
// whose operations are translated into CDP commands and whose callbacks are
// invoked by CDP events. The hard parts live in four subsystems: the
// connection core (conn.go, browser.go), target/session routing
// (session.go), the iframe resolver (frame.go), and the Fetch-domain request
// interception engine (fetch.go).
package gocdp
