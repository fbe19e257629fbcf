// Package wrapper talks to the Arduino test wrapper firmware that sits between the
// host and the ATmega32A under test.
//
// The protocol is line based ASCII: the host sends one newline terminated command
// and the wrapper answers with exactly one line. Errors are reported as
// "ERR <message>".
//
//	PING               -> OK
//	INFO               -> OK <text>
//	READ_PIN D7        -> PIN D7 HIGH
//	WRITE_PIN D7 LOW   -> OK
//	READ_ADC A1        -> ADC A1 512
//	MEASURE_PWM D9     -> PWM D9 20000 50
//	MODBUS_READ 0010   -> MODBUS 0010 1200
//	STATUS_ALL         -> {"D7":"HIGH", ...}
package wrapper
