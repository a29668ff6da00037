// Command chatmesh-cli is the command-line client for a ChatMesh node.
//
// Typical session:
//
//	chatmesh-cli -s localhost:8000 login alice
//	export CHATMESH_TOKEN=...
//	chatmesh-cli send general "hello mesh"
//	chatmesh-cli history general
//	chatmesh-cli watch general
//
// Cluster operations:
//
//	chatmesh-cli rooms
//	chatmesh-cli sync general
//	chatmesh-cli peers general
//	chatmesh-cli health
package main
