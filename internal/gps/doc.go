// Package gps reads NMEA receivers for the mixer.
//
// Each receiver owns one Decoder (byte stream -> checksum-validated GGA/VTG
// sentences), one ReceiverState (latest sample + availability) and one Port
// (serial or TCP source with reconnect). Only GGA and VTG are consumed.
package gps
