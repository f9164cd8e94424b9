// Package phys opens the byte streams a link runs on.
//
// An endpoint is a URL:
//
//	serial:///dev/ttyUSB0?baud=115200   UART via tarm/serial
//	/dev/ttyUSB0                        same as above
//	tcp://host:port                     raw TCP, e.g. ser2net
//	ws://host:port/path                 websocket binary frames
//	mqtt://broker:1883/prefix?device=ID MQTT topic pair, see package mqtt
package phys
