// Package l1packets owns Layer 1 (Packets) of the LiDAR data model.
//
// Responsibilities: raw UDP packet ingestion, PCAP replay, and low-level
// byte parsing. This layer assembles the driver messages that L2 (Frames)
// normalises into sweeps.
//
// Subpackages:
//   - livox: Livox SDK2 point packet parsing and frame assembly
//   - network: UDP listener and pure-Go PCAP replay
package l1packets
